package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/testhelpers"
)

func TestSpawnWorkerPool_ProcessesAllJobs(t *testing.T) {
	queue := make(chan Job, 10)
	var done atomic.Int32

	wg := SpawnWorkerPool(context.Background(), 3, queue, testhelpers.NewTestLogger())
	for i := 0; i < 10; i++ {
		queue <- JobFunc(func(context.Context) error {
			done.Add(1)
			return nil
		})
	}
	close(queue)
	wg.Wait()

	assert.Equal(t, int32(10), done.Load())
}

func TestSpawnWorkerPool_DrainsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Job, 5)
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		queue <- JobFunc(func(context.Context) error {
			done.Add(1)
			return errors.New("ignored")
		})
	}
	close(queue)
	cancel()

	SpawnWorkerPool(ctx, 2, queue, testhelpers.NewTestLogger()).Wait()
	assert.Equal(t, int32(5), done.Load())
}

func TestSpawnWorkerPool_RecoversPanic(t *testing.T) {
	queue := make(chan Job, 2)
	var done atomic.Int32

	wg := SpawnWorkerPool(context.Background(), 1, queue, testhelpers.NewTestLogger())
	queue <- JobFunc(func(context.Context) error { panic("boom") })
	queue <- JobFunc(func(context.Context) error {
		done.Add(1)
		return nil
	})
	close(queue)
	wg.Wait()

	assert.Equal(t, int32(1), done.Load(), "worker survives a panicking job")
}

func TestPool_SubmitAndClose(t *testing.T) {
	pool := NewPool(4, 8, testhelpers.NewTestLogger())

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(context.Background(), JobFunc(func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})))
	}
	pool.Close()

	assert.Len(t, got, 20)
	assert.ErrorIs(t, pool.Submit(context.Background(), JobFunc(func(context.Context) error { return nil })), ErrPoolClosed)
	assert.NotPanics(t, pool.Close)
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	pool := NewPool(1, 0, testhelpers.NewTestLogger())
	defer pool.Close()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), JobFunc(func(context.Context) error {
		<-release
		return nil
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, JobFunc(func(context.Context) error { return nil }))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
