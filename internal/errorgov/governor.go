// Package errorgov implements the Error Governor (C3): process-wide error
// budgets, a circuit breaker and an emergency shutdown trigger, so a
// misbehaving chain or provider cannot spin the engine into a hot retry
// loop indefinitely.
package errorgov

import (
	"sync"
	"time"

	"github.com/chainindexor/erc20indexer/internal/metrics"
)

const (
	// MaxConsecutive opens the breaker once this many errors land
	// back-to-back with no success in between.
	MaxConsecutive = 10
	// MaxPerHour opens the breaker once this many errors land within a
	// rolling hourly window.
	MaxPerHour = 50
	// BreakerTimeout is how long the breaker stays open before
	// auto-closing on the next tick.
	BreakerTimeout = 5 * time.Minute
	// HourlyWindow is the rolling window MaxPerHour is measured over.
	HourlyWindow = time.Hour
)

// ShutdownFunc pauses every queue, marks all running states error, and
// performs whatever else the coordinator needs to halt new work. It is
// invoked at most once per emergency shutdown.
type ShutdownFunc func(reason string)

// Governor tracks consecutive and hourly error counts and a breaker state
// shared by every component that calls OnError. Safe for concurrent use.
type Governor struct {
	mu sync.Mutex

	consecutive int
	hourly      int
	lastReset   time.Time

	breakerOpen     bool
	breakerOpenedAt time.Time

	shutdownRequested bool
	onShutdown        ShutdownFunc
}

// New creates a Governor. onShutdown, if non-nil, is invoked exactly once
// when emergencyShutdown fires.
func New(onShutdown ShutdownFunc) *Governor {
	return &Governor{
		lastReset:  time.Unix(0, 0),
		onShutdown: onShutdown,
	}
}

// OnError implements the §4.3 onError(chainId, contract, err) contract:
// increment counters, reset the hourly window if elapsed, and trigger
// emergencyShutdown on breach of either threshold.
func (g *Governor) OnError(now time.Time) {
	g.mu.Lock()

	if now.Sub(g.lastReset) > HourlyWindow {
		g.lastReset = now
		g.hourly = 0
	}

	g.consecutive++
	g.hourly++

	breach := g.consecutive >= MaxConsecutive || g.hourly >= MaxPerHour
	g.mu.Unlock()

	if breach {
		g.emergencyShutdown(now, "error governor: consecutive/hourly threshold breached")
	}
}

// OnSuccess resets the consecutive-error counter. The hourly counter is
// only cleared by window rollover, not by a single success.
func (g *Governor) OnSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive = 0
}

// emergencyShutdown pauses queues, marks running states error, and sets
// shutdownRequested. Idempotent: only the first call invokes onShutdown.
func (g *Governor) emergencyShutdown(now time.Time, reason string) {
	g.mu.Lock()
	alreadyRequested := g.shutdownRequested
	g.shutdownRequested = true
	g.breakerOpen = true
	g.breakerOpenedAt = now
	g.mu.Unlock()

	metrics.BreakerOpen.Set(1)
	if alreadyRequested {
		return
	}
	metrics.EmergencyShutdowns.Inc()
	if g.onShutdown != nil {
		g.onShutdown(reason)
	}
}

// OpenBreaker implements §4.3 openBreaker(): called when the coordinator
// fails to read the head block. Blocks new work until BreakerTimeout
// elapses, then auto-closes on the next CheckBreaker call.
func (g *Governor) OpenBreaker(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakerOpen = true
	g.breakerOpenedAt = now
	metrics.BreakerOpen.Set(1)
}

// CheckBreaker implements §4.3 checkBreaker() -> bool: true iff the
// breaker is currently open. Auto-closes once BreakerTimeout has elapsed
// since it opened.
func (g *Governor) CheckBreaker(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.breakerOpen {
		return false
	}
	if now.Sub(g.breakerOpenedAt) >= BreakerTimeout {
		g.breakerOpen = false
		g.consecutive = 0
		metrics.BreakerOpen.Set(0)
		return false
	}
	return true
}

// ShutdownRequested reports whether emergencyShutdown has fired. Cleared
// only by an explicit operator reset (resetErrorCounters).
func (g *Governor) ShutdownRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shutdownRequested
}

// ResetCounters implements the operator-facing resetErrorCounters
// operation (spec §8 scenario 5): clears every counter and the shutdown
// flag so start() can resume normal operation.
func (g *Governor) ResetCounters() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive = 0
	g.hourly = 0
	g.lastReset = time.Unix(0, 0)
	g.shutdownRequested = false
	g.breakerOpen = false
	metrics.BreakerOpen.Set(0)
}

// Snapshot returns the governor's current counters, for health reporting.
type Snapshot struct {
	Consecutive int
	Hourly      int
	BreakerOpen bool
	ShutdownReq bool
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Consecutive: g.consecutive,
		Hourly:      g.hourly,
		BreakerOpen: g.breakerOpen,
		ShutdownReq: g.shutdownRequested,
	}
}
