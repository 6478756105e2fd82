// Package resilience wraps generation-service calls with retry/backoff and
// a per-dependency circuit breaker.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Davinchi1352/bukoai-sub001/internal/metrics"
)

// ErrCircuitOpen is returned when a call is rejected fast because the
// breaker for the dependency is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// FailureThreshold is the consecutive-failure count that opens the
	// breaker (default 5).
	FailureThreshold int

	// Cooldown is the initial open window (default 5m). It doubles on every
	// failed half-open probe, up to MaxCooldown (default 30m).
	Cooldown    time.Duration
	MaxCooldown time.Duration

	Logger *slog.Logger
}

// Breaker is a per-dependency circuit breaker. One instance guards all
// workers calling that dependency; all mutation goes through the state
// machine below under a single mutex.
type Breaker struct {
	mu sync.Mutex

	name      string
	state     State
	failures  int
	threshold int

	cooldown     time.Duration
	baseCooldown time.Duration
	maxCooldown  time.Duration
	openedAt     time.Time
	probing      bool
	lastFailure  time.Time

	logger *slog.Logger
	now    func() time.Time // injectable for tests
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &Breaker{
		name:         cfg.Name,
		state:        StateClosed,
		threshold:    cfg.FailureThreshold,
		cooldown:     cfg.Cooldown,
		baseCooldown: cfg.Cooldown,
		maxCooldown:  cfg.MaxCooldown,
		logger:       cfg.Logger.With("breaker", cfg.Name),
		now:          time.Now,
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying the open→half_open timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reports whether a call may proceed. In half_open exactly one probe
// passes; everything else fails fast with ErrCircuitOpen until the probe
// resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probing {
			metrics.BreakerRejectionsTotal.WithLabelValues(b.name).Inc()
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, b.name)
		}
		b.probing = true
		return nil
	default: // StateOpen
		metrics.BreakerRejectionsTotal.WithLabelValues(b.name).Inc()
		return fmt.Errorf("%w: %s (cooldown %s remaining)", ErrCircuitOpen, b.name,
			(b.cooldown - b.now().Sub(b.openedAt)).Round(time.Second))
	}
}

// RecordSuccess reports a successful call. A half-open probe success closes
// the breaker and resets both the failure counter and the cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
		b.cooldown = b.baseCooldown
	case StateClosed:
		// Successes reset the consecutive count.
	}
	b.failures = 0
	b.probing = false
}

// RecordFailure reports a failed call. Reaching the threshold in closed
// opens the breaker; a failed half-open probe reopens it with a grown
// cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.cooldown = min(b.cooldown*2, b.maxCooldown)
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateOpen:
		// Rejected callers may still report; nothing to do.
	}
}

// ReleaseProbe returns the half-open probe slot without resolving the
// probe. Callers use it when a probe ends with a verdict that says nothing
// about dependency health: cancellation, or a permanent error the
// dependency answered definitively. The next allowed call probes again;
// without this a wedged probe slot would reject every call forever.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// maybeHalfOpen moves open→half_open once the cooldown has elapsed.
// Caller must hold the mutex.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(StateHalfOpen)
		b.probing = false
	}
}

// transition changes state and reports it. Caller must hold the mutex.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	metrics.BreakerTransitionsTotal.WithLabelValues(b.name, string(to)).Inc()
	b.logger.Warn("circuit breaker transition",
		"from", string(from),
		"to", string(to),
		"failures", b.failures,
		"cooldown", b.cooldown.String(),
	)
}

// Snapshot reports the breaker state for status endpoints.
type Snapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Threshold   int       `json:"threshold"`
	Cooldown    string    `json:"cooldown"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns the current breaker state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return Snapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Threshold:   b.threshold,
		Cooldown:    b.cooldown.String(),
		LastFailure: b.lastFailure,
	}
}
