package resolver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultFallbackCooldown = 500 * time.Millisecond

// CooldownGate spaces out online fallbacks. One gate is shared by every
// query of a Resolver, regardless of the address.
type CooldownGate struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	cooldown time.Duration
	last     time.Time
}

func NewCooldownGate(clock clockwork.Clock, cooldown time.Duration) *CooldownGate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cooldown < 0 {
		cooldown = 0
	}

	return &CooldownGate{clock: clock, cooldown: cooldown}
}

// TryAcquire reports whether the cooldown has elapsed and, if so, marks the
// attempt.
func (g *CooldownGate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}

	g.last = now
	return true
}

// Mark records an attempt without checking the cooldown.
func (g *CooldownGate) Mark() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.last = g.clock.Now()
}

func (g *CooldownGate) SetCooldown(cooldown time.Duration) {
	if cooldown < 0 {
		cooldown = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.cooldown = cooldown
}

func (g *CooldownGate) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cooldown
}
