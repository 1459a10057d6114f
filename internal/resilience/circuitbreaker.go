// Package resilience provides the circuit breaker guarding the transcoder
// stages of the encode pipeline.
//
// [Breaker] is a classic three-state breaker (closed → open → half-open):
// a stage that keeps failing, such as an ffmpeg binary that was removed
// while the service runs, is skipped immediately instead of burning a
// subprocess launch per recording, and is re-probed after a cool-down.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] when the breaker is open and the
// cool-down has not yet elapsed.
var ErrOpen = errors.New("breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state in which all calls are
	// forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive
	// failures. Calls are rejected immediately with [ErrOpen] until the
	// cool-down elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cool-down. A limited
	// number of calls are allowed through; if they succeed the breaker
	// closes, otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages, typically the
	// guarded transcoder's name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before transitioning to
	// half-open. Default: 1m.
	CoolDown time.Duration

	// ProbeMax is the number of probe calls allowed in the half-open state
	// before the breaker decides whether to close or re-open. Default: 1.
	ProbeMax int
}

// Breaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	probeMax    int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probeCalls      int
	probeFails      int
}

// NewBreaker creates a [Breaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = time.Minute
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 1
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		probeMax:    cfg.ProbeMax,
		state:       StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrOpen] without calling fn. In the half-open state a limited number of
// probe calls are permitted.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) >= b.coolDown {
			b.state = StateHalfOpen
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker transitioning to half-open", "name", b.name)
		} else {
			b.mu.Unlock()
			return ErrOpen
		}

	case StateHalfOpen:
		if b.probeCalls >= b.probeMax {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	return err
}

// recordFailure handles failure accounting. Must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		// Any probe failure immediately re-opens.
		b.state = StateOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("breaker re-opened from half-open", "name", b.name)
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("breaker opened",
			"name", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess handles success accounting. Must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if probing {
		successes := b.probeCalls - b.probeFails
		if successes >= b.probeMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		return
	}
	b.consecutiveFail = 0
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cool-down has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFail = 0
	b.probeCalls = 0
	b.probeFails = 0
	slog.Info("breaker manually reset", "name", b.name)
}
