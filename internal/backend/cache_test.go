package backend

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	token, proxy string
}

func (s *stubClient) SendMessage(context.Context, string, string) iter.Seq2[Chunk, error] {
	return seqOf([]string{s.token}, nil)
}

func (s *stubClient) KnowsBot(context.Context, string) (bool, error) { return true, nil }

func (s *stubClient) ResolveBotID(_ context.Context, name string) (string, error) {
	return name, nil
}

func countingFactory(calls *atomic.Int32) Factory {
	return FactoryFunc(func(_ context.Context, token, proxy string) (Client, error) {
		calls.Add(1)
		return &stubClient{token: token, proxy: proxy}, nil
	})
}

func TestClientCache_ReusesPair(t *testing.T) {
	var calls atomic.Int32
	cache, err := NewClientCache(countingFactory(&calls), 8)
	require.NoError(t, err)

	ctx := context.Background()
	a1, err := cache.Get(ctx, "tokA", "http://p1:8080")
	require.NoError(t, err)
	a2, err := cache.Get(ctx, "tokA", "http://p1:8080")
	require.NoError(t, err)
	b, err := cache.Get(ctx, "tokA", "http://p2:8080")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, cache.Len())
}

func TestClientCache_EvictAndPurge(t *testing.T) {
	var calls atomic.Int32
	cache, err := NewClientCache(countingFactory(&calls), 0)
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = cache.Get(ctx, "tokA", "")
	_, _ = cache.Get(ctx, "tokB", "")

	cache.Evict("tokA", "")
	assert.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Equal(t, 0, cache.Len())

	_, _ = cache.Get(ctx, "tokB", "")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientCache_FactoryErrorIsFatal(t *testing.T) {
	cache, err := NewClientCache(FactoryFunc(func(context.Context, string, string) (Client, error) {
		return nil, errors.New("tls handshake: bad certificate")
	}), 4)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "tok", "")
	assert.Equal(t, KindFatal, KindOf(err))
	assert.Equal(t, 0, cache.Len())
}

func TestClientCache_FactoryKeepsClassification(t *testing.T) {
	cache, err := NewClientCache(FactoryFunc(func(context.Context, string, string) (Client, error) {
		return nil, NewError(KindInvalidCredential, errors.New("revoked"))
	}), 4)
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "tok", "")
	assert.Equal(t, KindInvalidCredential, KindOf(err))
}

func TestClientCache_ConcurrentGet(t *testing.T) {
	var calls atomic.Int32
	cache, err := NewClientCache(countingFactory(&calls), 8)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "tok", "proxy")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
