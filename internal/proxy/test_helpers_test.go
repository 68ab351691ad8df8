package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/fail2ban"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
	"github.com/mixaill76/chat_relay/internal/testhelpers"
	"github.com/mixaill76/chat_relay/internal/worker"
)

type testProxy struct {
	*Proxy
	pool *balancer.Pool
	fb   *testhelpers.FakeBackend
}

// newTestProxy wires a Proxy over a fake backend with two tokens, no backoff
// and at most two attempts per request.
func newTestProxy(t *testing.T, fb *testhelpers.FakeBackend, requestTimeout time.Duration) *testProxy {
	t.Helper()
	logger := testhelpers.NewTestLogger()
	metrics := monitoring.New(false)

	pool := balancer.New([]balancer.Entry{{Token: "tok-a"}, {Token: "tok-b"}}, nil, fail2ban.New(0))
	resolver, err := models.NewResolver(map[string]string{"gpt-4": "beaver"}, 8, logger)
	require.NoError(t, err)
	clients, err := backend.NewClientCache(fb, 8)
	require.NoError(t, err)
	workers := worker.NewPool(2, 4, logger)
	t.Cleanup(workers.Close)

	d := dispatcher.New(pool, resolver, clients, workers, dispatcher.Config{
		MaxRetries:  2,
		BackoffBase: 1,
		BackoffUnit: 0,
	}, metrics, logger)
	tracker := proxyhealth.NewTracker(1, metrics, logger)
	d.SetProxyTracker(tracker)

	p := New(&Config{
		Dispatcher:     d,
		Pool:           pool,
		ProxyHealth:    tracker,
		Logger:         logger,
		MaxBodySizeMB:  1,
		RequestTimeout: requestTimeout,
		Version:        "test",
		Commit:         "abc123",
	})
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return &testProxy{Proxy: p, pool: pool, fb: fb}
}
