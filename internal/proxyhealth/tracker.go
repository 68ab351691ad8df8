// Package proxyhealth records the outcome of backend calls per outbound proxy.
package proxyhealth

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/security"
)

// DirectName labels calls made without a proxy.
const DirectName = "direct"

const DefaultFailureThreshold = 3

// Status is the health of one proxy as shown on the health endpoint.
type Status struct {
	Proxy            string    `json:"proxy"`
	Healthy          bool      `json:"healthy"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	LastError        string    `json:"last_error,omitempty"`
	LastChange       time.Time `json:"last_change"`
}

type proxyState struct {
	healthy          bool
	consecutiveFails int
	successes        int64
	failures         int64
	lastError        string
	lastChange       time.Time
}

// Tracker marks a proxy unhealthy after threshold consecutive transport
// failures and healthy again on the next success. Unknown proxies are
// assumed healthy.
type Tracker struct {
	mu        sync.RWMutex
	threshold int
	proxies   map[string]*proxyState
	metrics   *monitoring.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewTracker(threshold int, metrics *monitoring.Metrics, logger *slog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Tracker{
		threshold: threshold,
		proxies:   make(map[string]*proxyState),
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func nameOf(proxy string) string {
	if proxy == "" {
		return DirectName
	}
	return security.MaskProxyURL(proxy)
}

// state must be called with mu held.
func (t *Tracker) state(name string) *proxyState {
	s, ok := t.proxies[name]
	if !ok {
		s = &proxyState{healthy: true, lastChange: t.now()}
		t.proxies[name] = s
	}
	return s
}

// RecordSuccess resets the failure streak of proxy.
func (t *Tracker) RecordSuccess(proxy string) {
	name := nameOf(proxy)

	t.mu.Lock()
	s := t.state(name)
	s.successes++
	s.consecutiveFails = 0
	recovered := !s.healthy
	if recovered {
		s.healthy = true
		s.lastChange = t.now()
	}
	t.mu.Unlock()

	t.metrics.UpdateProxyHealth(name, true)
	if recovered {
		t.logger.Info("Proxy recovered", "proxy", name)
	}
}

// RecordFailure counts a transport failure through proxy.
func (t *Tracker) RecordFailure(proxy string, err error) {
	name := nameOf(proxy)

	t.mu.Lock()
	s := t.state(name)
	s.failures++
	s.consecutiveFails++
	if err != nil {
		s.lastError = err.Error()
	}
	tripped := s.healthy && s.consecutiveFails >= t.threshold
	if tripped {
		s.healthy = false
		s.lastChange = t.now()
	}
	healthy := s.healthy
	t.mu.Unlock()

	t.metrics.UpdateProxyHealth(name, healthy)
	if tripped {
		t.logger.Warn("Proxy marked unhealthy",
			"proxy", name,
			"consecutive_failures", t.threshold,
			"error", err,
		)
	}
}

// IsUnhealthy reports whether proxy crossed the failure threshold.
func (t *Tracker) IsUnhealthy(proxy string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.proxies[nameOf(proxy)]
	return ok && !s.healthy
}

// Statuses returns every tracked proxy sorted by name.
func (t *Tracker) Statuses() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.proxies))
	for name, s := range t.proxies {
		out = append(out, Status{
			Proxy:            name,
			Healthy:          s.healthy,
			ConsecutiveFails: s.consecutiveFails,
			Successes:        s.successes,
			Failures:         s.failures,
			LastError:        s.lastError,
			LastChange:       s.lastChange,
		})
	}
	slices.SortFunc(out, func(a, b Status) int {
		switch {
		case a.Proxy < b.Proxy:
			return -1
		case a.Proxy > b.Proxy:
			return 1
		}
		return 0
	})
	return out
}

// UnhealthyCount returns how many tracked proxies are currently unhealthy.
func (t *Tracker) UnhealthyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.proxies {
		if !s.healthy {
			n++
		}
	}
	return n
}
