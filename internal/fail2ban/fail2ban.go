package fail2ban

import (
	"sync"
	"time"
)

// Fail2Ban tracks tokens that have been observed as invalid.
// A ban either lasts until Reset/Unban (banDuration = 0) or expires lazily
// after banDuration.
type Fail2Ban struct {
	mu          sync.RWMutex
	banDuration time.Duration // 0 means permanent ban
	banned      map[string]time.Time
	now         func() time.Time
}

func New(banDuration time.Duration) *Fail2Ban {
	return &Fail2Ban{
		banDuration: banDuration,
		banned:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// Ban marks the token as bad. Banning an already banned token keeps the
// original ban time.
func (f *Fail2Ban) Ban(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.banned[token]; ok {
		return
	}
	f.banned[token] = f.now()
}

func (f *Fail2Ban) IsBanned(token string) bool {
	f.mu.RLock()
	banTime, ok := f.banned[token]
	f.mu.RUnlock()

	if !ok {
		return false
	}
	if f.banDuration == 0 {
		return true
	}
	if f.now().Sub(banTime) < f.banDuration {
		return true
	}

	// Ban expired, upgrade to write lock and unban
	f.mu.Lock()
	defer f.mu.Unlock()
	if current, stillBanned := f.banned[token]; stillBanned && f.now().Sub(current) >= f.banDuration {
		delete(f.banned, token)
	}
	return false
}

func (f *Fail2Ban) Unban(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.banned, token)
}

// Reset clears every ban at once.
func (f *Fail2Ban) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banned = make(map[string]time.Time)
}

// CountBanned returns how many of the given tokens are currently banned.
// Expired bans are not counted.
func (f *Fail2Ban) CountBanned(tokens []string) int {
	count := 0
	for _, token := range tokens {
		if f.IsBanned(token) {
			count++
		}
	}
	return count
}

func (f *Fail2Ban) GetBannedTokens() []string {
	f.mu.RLock()
	names := make([]string, 0, len(f.banned))
	for name := range f.banned {
		names = append(names, name)
	}
	f.mu.RUnlock()

	banned := names[:0]
	for _, name := range names {
		if f.IsBanned(name) {
			banned = append(banned, name)
		}
	}
	return banned
}
