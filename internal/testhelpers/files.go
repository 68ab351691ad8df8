package testhelpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTempFile writes content to name inside a fresh temp directory and
// returns the full path.
func WriteTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// MinimalConfigYAML is a config file with a single token and defaults elsewhere.
const MinimalConfigYAML = `
server:
  port: 8080
  logging_level: error
credentials:
  tokens: ["test-token"]
`
