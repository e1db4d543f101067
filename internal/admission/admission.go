// Package admission bounds how much work the service accepts at once.
//
// Executions spawn real npm and node processes, so an unbounded request
// stream can exhaust the host long before the Go side notices. The gate
// combines a concurrency cap (slots) with an optional token-bucket rate
// limit applied before a slot is taken.
package admission

import (
	"golang.org/x/time/rate"

	"github.com/jkaninda/kazi/internal/config"
)

// Gate admits or rejects incoming execution requests.
type Gate struct {
	slots   chan struct{} // nil when unbounded
	limiter *rate.Limiter // nil when no rate limit configured
}

// NewGate builds a gate from config. A nil config yields the default
// concurrency cap and no rate limit.
func NewGate(cfg *config.AdmissionConfig) *Gate {
	g := &Gate{}
	if n := cfg.MaxConcurrent(); n > 0 {
		g.slots = make(chan struct{}, n)
	}
	if cfg != nil && cfg.RequestsPerSecond > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = cfg.RequestsPerSecond
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// TryAcquire attempts to admit one execution without blocking. On
// success the caller must call the returned release function exactly
// once when the execution finishes.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, false
	}
	if g.slots == nil {
		return func() {}, true
	}
	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, true
	default:
		return nil, false
	}
}

// InFlight reports the number of executions currently holding a slot.
// Returns 0 when the gate is unbounded.
func (g *Gate) InFlight() int {
	if g.slots == nil {
		return 0
	}
	return len(g.slots)
}

// Capacity reports the concurrency cap, or -1 when unbounded.
func (g *Gate) Capacity() int {
	if g.slots == nil {
		return -1
	}
	return cap(g.slots)
}
