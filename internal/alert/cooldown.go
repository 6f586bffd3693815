package alert

import (
	"sync"
	"time"
)

// CooldownGate enforces a minimum interval between two notifications
// for the same key. The fired timestamp is committed inside TryAcquire,
// before any dispatch I/O starts, and is never rolled back: a failed
// dispatch burns its cooldown slot. One suppressed notification beats
// a retry storm.
type CooldownGate struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

func NewCooldownGate() *CooldownGate {
	return &CooldownGate{lastFired: make(map[string]time.Time)}
}

// TryAcquire reports whether the caller may dispatch for key. On true
// the fired timestamp is already recorded. A non-positive cooldown
// disables suppression; every call acquires.
func (g *CooldownGate) TryAcquire(key string, now time.Time, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cooldown > 0 {
		if last, ok := g.lastFired[key]; ok && now.Sub(last) < cooldown {
			return false
		}
	}
	g.lastFired[key] = now
	return true
}

// Purge drops the record for key, if any.
func (g *CooldownGate) Purge(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastFired, key)
}
