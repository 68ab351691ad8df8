package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 256

// ClientCache keeps one client per (token, proxy) pair so a session is reused
// across requests instead of re-authenticating every attempt.
type ClientCache struct {
	mu      sync.Mutex
	factory Factory
	clients *lru.Cache[string, Client]
}

func NewClientCache(factory Factory, size int) (*ClientCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	clients, err := lru.New[string, Client](size)
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	return &ClientCache{factory: factory, clients: clients}, nil
}

func cacheKey(token, proxy string) string {
	return token + "\x00" + proxy
}

// Get returns the cached client for the pair, creating it on first use.
// Construction failures are reported as KindFatal unless the factory already
// classified them.
func (c *ClientCache) Get(ctx context.Context, token, proxy string) (Client, error) {
	key := cacheKey(token, proxy)
	if client, ok := c.clients.Get(key); ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients.Get(key); ok {
		return client, nil
	}

	client, err := c.factory.NewClient(ctx, token, proxy)
	if err != nil {
		var be *Error
		if !errors.As(err, &be) {
			err = NewError(KindFatal, err)
		}
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	c.clients.Add(key, client)
	return client, nil
}

// Evict drops the client for one pair, e.g. after its token was invalidated.
func (c *ClientCache) Evict(token, proxy string) {
	c.clients.Remove(cacheKey(token, proxy))
}

// Purge drops every cached client, forcing reconnection.
func (c *ClientCache) Purge() {
	c.clients.Purge()
}

func (c *ClientCache) Len() int {
	return c.clients.Len()
}
