package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Davinchi1352/bukoai-sub001/internal/metrics"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

// RetryConfig tunes the retry policy applied around the breaker.
type RetryConfig struct {
	// Attempts bounds the total tries, including the first (default 4).
	Attempts uint

	// BaseDelay seeds the exponential backoff (default 1s).
	BaseDelay time.Duration

	// RateLimitDelay replaces BaseDelay when the provider reported
	// rate_limited, so retries do not immediately re-trip the provider's
	// limiter (default 10s).
	RateLimitDelay time.Duration

	// MaxDelay caps a single backoff interval before jitter (default 60s).
	MaxDelay time.Duration

	// StallTimeout fails a stream that produces no event for this long,
	// catching connections that are open but dead. Zero disables it.
	StallTimeout time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.Attempts == 0 {
		c.Attempts = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = 10 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// GenerationResult is the outcome of one resilient generation call,
// including usage burned on failed attempts.
type GenerationResult struct {
	Text      string
	Reasoning string
	Usage     providers.Usage
	Retries   int
}

// Caller drives a single logical generation call through the breaker and
// the retry policy. Transient failures back off exponentially with jitter;
// permanent failures and an open breaker surface immediately.
type Caller struct {
	client  providers.StreamClient
	breaker *Breaker
	cfg     RetryConfig
	logger  *slog.Logger
}

// NewCaller creates a resilient caller for one dependency.
func NewCaller(client providers.StreamClient, breaker *Breaker, cfg RetryConfig, logger *slog.Logger) *Caller {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		client:  client,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger.With("dependency", breaker.Name()),
	}
}

// Breaker exposes the caller's breaker for status reporting.
func (c *Caller) Breaker() *Breaker {
	return c.breaker
}

// Generate performs the streaming call, collecting the full text. Usage is
// accumulated across every attempt; tokens burned on a failed attempt still
// count against the job.
func (c *Caller) Generate(ctx context.Context, req *providers.GenerationRequest) (*GenerationResult, error) {
	res := &GenerationResult{}

	err := retry.Do(
		func() error {
			if err := c.breaker.Allow(); err != nil {
				return err
			}

			stream, err := c.client.Stream(ctx, req)
			if err != nil {
				c.recordFailure(ctx, err)
				return err
			}
			text, reasoning, usage, err := providers.CollectWithStall(ctx, stream, c.cfg.StallTimeout)
			res.Usage.Add(usage)
			if err != nil {
				c.recordFailure(ctx, err)
				return err
			}

			c.breaker.RecordSuccess()
			res.Text = text
			res.Reasoning = reasoning
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, ErrCircuitOpen) {
				// Spinning against an open breaker wastes the retry budget;
				// the scheduler defers the job instead.
				return false
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return providers.Classify(err).Transient()
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return c.backoffDelay(n, providers.Classify(err))
		}),
		retry.OnRetry(func(n uint, err error) {
			res.Retries++
			kind := providers.Classify(err)
			metrics.RetriesTotal.WithLabelValues(c.breaker.Name(), string(kind)).Inc()
			c.logger.Warn("retrying generation call",
				"attempt", n+1,
				"kind", string(kind),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		return res, err
	}
	return res, nil
}

// backoffDelay computes min(maxDelay, base*2^n) * (1 + uniform(0.1, 0.3)).
// Rate-limit errors use the longer base so the provider's limiter has time
// to recover.
func (c *Caller) backoffDelay(attempt uint, kind providers.ErrorKind) time.Duration {
	base := c.cfg.BaseDelay
	if kind == providers.ErrKindRateLimited {
		base = c.cfg.RateLimitDelay
	}

	delay := base
	for i := uint(0); i < attempt && delay < c.cfg.MaxDelay; i++ {
		delay *= 2
	}
	delay = min(delay, c.cfg.MaxDelay)

	jitter := 1 + 0.1 + rand.Float64()*0.2
	return time.Duration(float64(delay) * jitter)
}

// recordFailure reports a call failure to the breaker. Cancellation and
// caller-side request bugs are not evidence of dependency ill health, so
// they do not advance the failure counter; if such a call held the
// half-open probe slot, the slot is released so the next call can probe.
func (c *Caller) recordFailure(ctx context.Context, err error) {
	if ctx.Err() != nil {
		c.breaker.ReleaseProbe()
		return
	}
	kind := providers.Classify(err)
	if !kind.Transient() {
		c.breaker.ReleaseProbe()
		return
	}
	c.breaker.RecordFailure()
}
