package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/testhelpers"
)

func TestWatchList_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://p1:8080\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []string, 8)
	require.NoError(t, WatchList(ctx, path, func(items []string) { changes <- items }, testhelpers.NewTestLogger()))

	// Writes to a sibling file are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x\n"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("http://p2:8080\n# off\nhttp://p3:8080\n"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case items := <-changes:
			if len(items) == 2 {
				assert.Equal(t, []string{"http://p2:8080", "http://p3:8080"}, items)
				return
			}
		case <-deadline:
			t.Fatal("watcher did not report the change")
		}
	}
}

func TestWatchList_MissingDirectory(t *testing.T) {
	err := WatchList(context.Background(), "/non/existent/dir/proxies.txt", func([]string) {}, testhelpers.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch directory")
}
