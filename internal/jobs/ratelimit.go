package jobs

import (
	"context"
	"sync"
	"time"
)

// Operation is the rate-limited request class.
type Operation string

const (
	OpArchitecture Operation = "architecture"
	OpGeneration   Operation = "generation"
)

// RateLimits sets the per-user rolling-window admission limits.
type RateLimits struct {
	// ArchitecturePerWindow caps architecture requests (default 10).
	ArchitecturePerWindow int

	// GenerationsPerWindow caps full book generations (default 3).
	GenerationsPerWindow int

	// Window is the rolling window length (default 1h).
	Window time.Duration
}

func (l *RateLimits) applyDefaults() {
	if l.ArchitecturePerWindow <= 0 {
		l.ArchitecturePerWindow = 10
	}
	if l.GenerationsPerWindow <= 0 {
		l.GenerationsPerWindow = 3
	}
	if l.Window <= 0 {
		l.Window = time.Hour
	}
}

func (l RateLimits) limitFor(op Operation) int {
	if op == OpGeneration {
		return l.GenerationsPerWindow
	}
	return l.ArchitecturePerWindow
}

// RateLimiter enforces per-user admission. Allow records the request when
// admitted; an over-limit request is not recorded, so deferred jobs do not
// burn quota while waiting.
type RateLimiter interface {
	Allow(ctx context.Context, userID string, op Operation) (bool, error)
}

// WindowLimiter is the in-memory rolling-window limiter for single-binary
// deployments.
type WindowLimiter struct {
	mu     sync.Mutex
	limits RateLimits
	seen   map[string][]time.Time
	now    func() time.Time
}

// NewWindowLimiter creates an in-memory limiter.
func NewWindowLimiter(limits RateLimits) *WindowLimiter {
	limits.applyDefaults()
	return &WindowLimiter{
		limits: limits,
		seen:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, userID string, op Operation) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + ":" + string(op)
	now := l.now()
	cutoff := now.Add(-l.limits.Window)

	events := l.seen[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limits.limitFor(op) {
		l.seen[key] = kept
		return false, nil
	}
	l.seen[key] = append(kept, now)
	return true, nil
}
