package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/fail2ban"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/testhelpers"
)

func newTestProber(t *testing.T, fb *testhelpers.FakeBackend, proxies []string, tokens ...string) (*Prober, *balancer.Pool) {
	t.Helper()
	logger := testhelpers.NewTestLogger()

	entries := make([]balancer.Entry, len(tokens))
	for i, tok := range tokens {
		entries[i] = balancer.Entry{Token: tok}
	}
	pool := balancer.New(entries, proxies, fail2ban.New(0))

	clients, err := backend.NewClientCache(fb, 16)
	require.NoError(t, err)
	resolver, err := models.NewResolver(map[string]string{"gpt-4": "beaver"}, 8, logger)
	require.NoError(t, err)

	return New(pool, clients, resolver, Options{Model: "gpt-4", Workers: 2, Timeout: time.Second}, logger), pool
}

func TestRun_ClassifiesEveryToken(t *testing.T) {
	fb := testhelpers.NewFakeBackend("pong")
	fb.Replies = map[string]testhelpers.FakeReply{
		"tok-revoked": {Err: backend.NewError(backend.KindInvalidCredential, errors.New("401"))},
		"tok-limited": {Err: backend.NewError(backend.KindRateLimited, errors.New("429"))},
	}
	prober, pool := newTestProber(t, fb, nil, "tok-good", "tok-revoked", "tok-limited")

	results := prober.Run(context.Background())
	require.Len(t, results, 3)

	assert.True(t, results[0].OK)
	assert.Equal(t, "tok-...", results[0].Token, "tokens are masked")
	assert.False(t, results[1].OK)
	assert.Equal(t, "invalid_credential", results[1].Kind)
	assert.Equal(t, "rate_limited", results[2].Kind)

	assert.True(t, pool.IsBad("tok-revoked"))
	assert.False(t, pool.IsBad("tok-limited"), "rate limits do not mark tokens bad")

	assert.Equal(t, Summary{Total: 3, OK: 1, Invalid: 1, Failed: 1}, Summarize(results))

	for _, c := range fb.Calls() {
		assert.Equal(t, "beaver", c.BotID)
		assert.Equal(t, DefaultPrompt, c.Prompt)
	}
}

func TestRun_RestoresRecoveredToken(t *testing.T) {
	fb := testhelpers.NewFakeBackend("pong")
	prober, pool := newTestProber(t, fb, nil, "tok-a", "tok-b")
	pool.MarkBad("tok-a")

	prober.Run(context.Background())

	assert.False(t, pool.IsBad("tok-a"))
}

func TestRun_SpreadsProxies(t *testing.T) {
	fb := testhelpers.NewFakeBackend("pong")
	prober, _ := newTestProber(t, fb, []string{"http://p1:1", "http://p2:2"}, "t1", "t2", "t3")

	prober.Run(context.Background())

	byToken := map[string]string{}
	for _, c := range fb.Calls() {
		byToken[c.Token] = c.Proxy
	}
	assert.Equal(t, "http://p1:1", byToken["t1"])
	assert.Equal(t, "http://p2:2", byToken["t2"])
	assert.Equal(t, "http://p1:1", byToken["t3"])
}

func TestScheduler_EmptyScheduleIsDisabled(t *testing.T) {
	prober, _ := newTestProber(t, testhelpers.NewFakeBackend("pong"), nil, "t1")
	s := NewScheduler(prober, "", testhelpers.NewTestLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	prober, _ := newTestProber(t, testhelpers.NewFakeBackend("pong"), nil, "t1")
	s := NewScheduler(prober, "not a cron", testhelpers.NewTestLogger())

	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	prober, _ := newTestProber(t, testhelpers.NewFakeBackend("pong"), nil, "t1")
	s := NewScheduler(prober, "*/30 * * * *", testhelpers.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	next := s.NextRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))

	s.Stop()
	assert.False(t, s.IsRunning())
}
