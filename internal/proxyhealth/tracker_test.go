package proxyhealth

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/testhelpers"
)

func newTestTracker(threshold int) *Tracker {
	return NewTracker(threshold, monitoring.New(true), testhelpers.NewTestLogger())
}

func TestIsUnhealthy_UnknownProxy_ReturnsFalse(t *testing.T) {
	tracker := newTestTracker(1)

	assert.False(t, tracker.IsUnhealthy("http://unknown:8080"), "unknown proxy is assumed healthy")
}

func TestRecordFailure_Threshold(t *testing.T) {
	tracker := newTestTracker(2)
	proxy := "http://p1:8080"

	tracker.RecordFailure(proxy, errors.New("connection refused"))
	assert.False(t, tracker.IsUnhealthy(proxy), "one failure is below the threshold")

	tracker.RecordFailure(proxy, errors.New("timeout"))
	assert.True(t, tracker.IsUnhealthy(proxy))
	assert.Equal(t, 1, tracker.UnhealthyCount())

	statuses := tracker.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, 2, statuses[0].ConsecutiveFails)
	assert.Equal(t, int64(2), statuses[0].Failures)
	assert.Equal(t, "timeout", statuses[0].LastError)
}

func TestRecordSuccess_Recovers(t *testing.T) {
	tracker := newTestTracker(1)
	proxy := "http://p1:8080"

	tracker.RecordFailure(proxy, errors.New("reset"))
	require.True(t, tracker.IsUnhealthy(proxy))

	tracker.RecordSuccess(proxy)
	assert.False(t, tracker.IsUnhealthy(proxy))
	assert.Equal(t, 0, tracker.UnhealthyCount())

	s := tracker.Statuses()[0]
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFails)
	assert.Equal(t, int64(1), s.Successes)
}

func TestProxyNamesAreMasked(t *testing.T) {
	tracker := newTestTracker(1)

	tracker.RecordSuccess("socks5://user:secret@p2:1080")
	tracker.RecordSuccess("")

	statuses := tracker.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, DirectName, statuses[0].Proxy)
	assert.Equal(t, "socks5://user:***@p2:1080", statuses[1].Proxy)
}

func TestMetricsUpdated(t *testing.T) {
	monitoring.ProxyHealthy.Reset()
	tracker := newTestTracker(1)

	tracker.RecordFailure("http://p3:8080", errors.New("eof"))
	assert.Equal(t, 0.0, testutil.ToFloat64(monitoring.ProxyHealthy.WithLabelValues("http://p3:8080")))

	tracker.RecordSuccess("http://p3:8080")
	assert.Equal(t, 1.0, testutil.ToFloat64(monitoring.ProxyHealthy.WithLabelValues("http://p3:8080")))
}
