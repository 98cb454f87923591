package auth

import (
	"context"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
)

// DefaultFlagTTL is how long a persisted flag value is trusted before refetch.
const DefaultFlagTTL = 60 * time.Second

// FlagGateConfig defines the static side of the gate and cache timing.
type FlagGateConfig struct {
	Static bool             // deployment-time switch, persisted flag is not consulted when off
	TTL    time.Duration    // DefaultFlagTTL if zero
	Now    func() time.Time // time.Now if nil
}

// FlagGate combines a static deployment flag with a persisted one, a flag is active only if both are on.
// Persisted values are cached per flag name for TTL. Concurrent refreshes of an expired entry may race,
// the last write wins.
type FlagGate struct {
	static bool
	store  FlagStore
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex // guards cache map only, never held across store calls
	cache map[string]flagEntry
}

type flagEntry struct {
	value     bool
	fetchedAt time.Time
}

// NewFlagGate makes a gate on top of the flag store.
func NewFlagGate(st FlagStore, cfg FlagGateConfig) *FlagGate {
	res := &FlagGate{static: cfg.Static, store: st, ttl: cfg.TTL, now: cfg.Now, cache: map[string]flagEntry{}}
	if res.ttl <= 0 {
		res.ttl = DefaultFlagTTL
	}
	if res.now == nil {
		res.now = time.Now
	}
	return res
}

// Active reports whether the flag is on. Store errors give false and are not cached.
func (g *FlagGate) Active(ctx context.Context, name string) bool {
	if g == nil || !g.static {
		return false
	}

	now := g.now()
	g.mu.Lock()
	entry, ok := g.cache[name]
	g.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < g.ttl {
		return entry.value
	}

	if g.store == nil {
		return false
	}
	val, err := g.store.GetFlag(ctx, name)
	if err != nil {
		log.Printf("[WARN] failed to get flag %q, treated as off: %v", name, err)
		return false
	}

	g.mu.Lock()
	g.cache[name] = flagEntry{value: val, fetchedAt: now}
	g.mu.Unlock()
	return val
}
