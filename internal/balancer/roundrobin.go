package balancer

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mixaill76/chat_relay/internal/fail2ban"
	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/security"
)

// ErrEmptyPool is returned when the pool holds no entries.
var ErrEmptyPool = errors.New("credential pool is empty")

// Entry is one loaded credential. Proxy may be empty (direct connection).
type Entry struct {
	Token string
	Proxy string
}

// Stats is a point-in-time view of the pool used by health and metrics.
type Stats struct {
	Size       int `json:"size"`
	Bad        int `json:"bad"`
	Current    int `json:"current"`
	Proxies    int `json:"proxies"`
	ProxyIndex int `json:"proxy_index"`
}

// Pool rotates over tokens round-robin, skipping tokens marked bad, and cycles
// an independent proxy cursor. All mutations are serialized by mu.
type Pool struct {
	mu         sync.Mutex
	entries    []Entry
	tokens     []string
	current    int
	proxies    []string
	proxyIndex int
	fail2ban   *fail2ban.Fail2Ban
	logger     *slog.Logger
}

// New builds a pool over entries in order. proxies is the rotating list used
// by entries without a proxy of their own.
func New(entries []Entry, proxies []string, f2b *fail2ban.Fail2Ban) *Pool {
	if f2b == nil {
		panic("balancer.New: fail2ban must not be nil")
	}

	tokens := make([]string, len(entries))
	for i, e := range entries {
		tokens[i] = e.Token
	}

	p := &Pool{
		entries:  append([]Entry(nil), entries...),
		tokens:   tokens,
		proxies:  append([]string(nil), proxies...),
		fail2ban: f2b,
		logger:   slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	monitoring.PoolTokens.Set(float64(len(entries)))
	return p
}

// SetLogger sets the logger for the pool.
func (p *Pool) SetLogger(logger *slog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = logger
}

// Current returns the entry at the token cursor.
func (p *Pool) Current() (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return Entry{}, ErrEmptyPool
	}
	return p.entries[p.current], nil
}

// Snapshot returns the entry at the token cursor together with the proxy to
// use, read under a single lock. An entry's own proxy wins; otherwise the proxy
// at the proxy cursor is returned, or "" when no list is configured.
func (p *Pool) Snapshot() (Entry, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return Entry{}, "", ErrEmptyPool
	}
	entry := p.entries[p.current]
	proxy := entry.Proxy
	if proxy == "" && len(p.proxies) > 0 {
		proxy = p.proxies[p.proxyIndex]
	}
	return entry, proxy, nil
}

// RotateToken advances the cursor to the next token that is not marked bad.
// If every token is bad the bad set is cleared first, so rotation never starves.
func (p *Pool) RotateToken() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 0 {
		return ErrEmptyPool
	}

	if p.fail2ban.CountBanned(p.tokens) >= n {
		p.fail2ban.Reset()
		monitoring.BadTokenResets.Inc()
		p.logger.Warn("All tokens marked bad, resetting bad token set", "pool_size", n)
	}

	for step := 0; step < 2*n; step++ {
		p.current = (p.current + 1) % n
		if !p.fail2ban.IsBanned(p.entries[p.current].Token) {
			monitoring.TokenRotations.Inc()
			p.logger.Debug("Rotated token",
				"index", p.current,
				"token", security.MaskToken(p.entries[p.current].Token),
			)
			return nil
		}
	}
	return ErrEmptyPool
}

// RotateProxy advances the proxy cursor by one. Proxies are never skipped.
func (p *Pool) RotateProxy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return
	}
	p.proxyIndex = (p.proxyIndex + 1) % len(p.proxies)
}

// MarkBad excludes token from rotation. Idempotent.
func (p *Pool) MarkBad(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail2ban.IsBanned(token) {
		return
	}
	p.fail2ban.Ban(token)
	monitoring.BadTokenMarks.Inc()
	monitoring.PoolTokensBad.Set(float64(p.fail2ban.CountBanned(p.tokens)))
	p.logger.Warn("Token marked bad", "token", security.MaskToken(token))
}

// MarkGood returns a previously bad token to rotation.
func (p *Pool) MarkGood(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fail2ban.IsBanned(token) {
		return
	}
	p.fail2ban.Unban(token)
	monitoring.PoolTokensBad.Set(float64(p.fail2ban.CountBanned(p.tokens)))
	p.logger.Info("Token returned to rotation", "token", security.MaskToken(token))
}

// IsBad reports whether token is currently excluded from rotation.
func (p *Pool) IsBad(token string) bool {
	return p.fail2ban.IsBanned(token)
}

// SetProxies replaces the proxy list. The proxy cursor is kept in range.
func (p *Pool) SetProxies(proxies []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.proxies = append([]string(nil), proxies...)
	if len(p.proxies) == 0 {
		p.proxyIndex = 0
	} else {
		p.proxyIndex %= len(p.proxies)
	}
	p.logger.Info("Proxy list replaced", "count", len(p.proxies))
}

// Entries returns a copy of all loaded entries in pool order.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.entries...)
}

// Proxies returns a copy of the current proxy list.
func (p *Pool) Proxies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.proxies...)
}

// Stats returns the current pool counters and refreshes the bad-token gauge.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	bad := p.fail2ban.CountBanned(p.tokens)
	monitoring.PoolTokensBad.Set(float64(bad))
	return Stats{
		Size:       len(p.entries),
		Bad:        bad,
		Current:    p.current,
		Proxies:    len(p.proxies),
		ProxyIndex: p.proxyIndex,
	}
}
