package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       4,
		BaseDelay:      time.Millisecond,
		RateLimitDelay: 2 * time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
	}
}

func TestCaller_RetriesTransientThenSucceeds(t *testing.T) {
	// Scenario: overloaded twice, success on the third attempt.
	mock := &providers.MockClient{
		Script: []providers.MockCall{
			{Err: &providers.ProviderError{Kind: providers.ErrKindOverloaded, Message: "busy"}},
			{Err: &providers.ProviderError{Kind: providers.ErrKindOverloaded, Message: "busy"}},
			{Text: "chapter text", Usage: providers.Usage{PromptTokens: 10, CompletionTokens: 50}},
		},
	}
	breaker := NewBreaker(BreakerConfig{Name: "gen", FailureThreshold: 5})
	caller := NewCaller(mock, breaker, fastRetryConfig(), nil)

	res, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "chapter text" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Retries != 2 {
		t.Errorf("Retries = %d, want 2", res.Retries)
	}
	// Success reset the counter: the breaker never opened.
	if breaker.State() != StateClosed {
		t.Errorf("breaker state = %s, want closed", breaker.State())
	}
	if breaker.Failures() != 0 {
		t.Errorf("breaker failures = %d, want 0", breaker.Failures())
	}
}

func TestCaller_PermanentErrorNoRetry(t *testing.T) {
	mock := &providers.MockClient{
		Default: providers.MockCall{Err: &providers.ProviderError{Kind: providers.ErrKindInvalidRequest, Message: "bad payload"}},
	}
	breaker := NewBreaker(BreakerConfig{Name: "gen", FailureThreshold: 5})
	caller := NewCaller(mock, breaker, fastRetryConfig(), nil)

	_, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if err == nil {
		t.Fatal("Generate() error = nil, want invalid_request")
	}
	if providers.Classify(err) != providers.ErrKindInvalidRequest {
		t.Errorf("Classify() = %s", providers.Classify(err))
	}
	if mock.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1 (no retry on permanent error)", mock.Calls())
	}
	// Request bugs are not dependency health signals.
	if breaker.Failures() != 0 {
		t.Errorf("breaker failures = %d, want 0", breaker.Failures())
	}
}

func TestCaller_BreakerOpensAndFailsFast(t *testing.T) {
	// Scenario: five consecutive overloaded errors open the breaker.
	mock := &providers.MockClient{
		Default: providers.MockCall{Err: &providers.ProviderError{Kind: providers.ErrKindOverloaded, Message: "busy"}},
	}
	breaker := NewBreaker(BreakerConfig{Name: "gen", FailureThreshold: 5, Cooldown: time.Hour})
	cfg := fastRetryConfig()
	cfg.Attempts = 5
	caller := NewCaller(mock, breaker, cfg, nil)

	if _, err := caller.Generate(context.Background(), &providers.GenerationRequest{}); err == nil {
		t.Fatal("Generate() error = nil, want overloaded")
	}
	if breaker.State() != StateOpen {
		t.Fatalf("breaker state = %s, want open after 5 failures", breaker.State())
	}

	// A call during the cooldown must fail fast without touching the network.
	callsBefore := mock.Calls()
	_, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Generate() while open = %v, want ErrCircuitOpen", err)
	}
	if mock.Calls() != callsBefore {
		t.Errorf("Calls() grew from %d to %d while breaker open", callsBefore, mock.Calls())
	}
}

func TestCaller_PermanentProbeFailureFreesHalfOpen(t *testing.T) {
	overloaded := providers.MockCall{Err: &providers.ProviderError{Kind: providers.ErrKindOverloaded, Message: "busy"}}
	mock := &providers.MockClient{
		Script: []providers.MockCall{
			overloaded, overloaded, overloaded, overloaded, overloaded,
			{Err: &providers.ProviderError{Kind: providers.ErrKindInvalidRequest, Message: "bad payload"}},
			{Text: "recovered"},
		},
	}
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	breaker := NewBreaker(BreakerConfig{Name: "gen", FailureThreshold: 5, Cooldown: time.Minute})
	breaker.now = clock.Now
	cfg := fastRetryConfig()
	cfg.Attempts = 5
	caller := NewCaller(mock, breaker, cfg, nil)

	if _, err := caller.Generate(context.Background(), &providers.GenerationRequest{}); err == nil {
		t.Fatal("Generate() error = nil, want overloaded")
	}
	if breaker.State() != StateOpen {
		t.Fatalf("breaker state = %s, want open", breaker.State())
	}

	clock.Advance(61 * time.Second)

	// The half-open probe hits a request bug. The error surfaces, but the
	// probe slot must not stay taken.
	_, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if providers.Classify(err) != providers.ErrKindInvalidRequest {
		t.Fatalf("Generate() probe error = %v, want invalid_request", err)
	}
	if breaker.State() != StateHalfOpen {
		t.Fatalf("breaker state after permanent probe failure = %s, want half_open", breaker.State())
	}

	// The next call takes the freed slot and closes the breaker on success.
	res, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if err != nil {
		t.Fatalf("Generate() after probe release = %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q, want recovered", res.Text)
	}
	if breaker.State() != StateClosed {
		t.Errorf("breaker state = %s, want closed", breaker.State())
	}
}

func TestCaller_CancelledProbeFreesHalfOpen(t *testing.T) {
	mock := providers.NewMockClient("unused")
	breaker := NewBreaker(BreakerConfig{Name: "gen", FailureThreshold: 1, Cooldown: time.Minute})
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	breaker.now = clock.Now
	caller := NewCaller(mock, breaker, fastRetryConfig(), nil)

	breaker.RecordFailure()
	clock.Advance(61 * time.Second)
	if err := breaker.Allow(); err != nil {
		t.Fatalf("Allow() probe = %v, want nil", err)
	}

	// The in-flight probe is abandoned by cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller.recordFailure(ctx, context.Canceled)

	if breaker.State() != StateHalfOpen {
		t.Fatalf("breaker state after cancelled probe = %s, want half_open", breaker.State())
	}
	if err := breaker.Allow(); err != nil {
		t.Errorf("Allow() after cancelled probe = %v, want a fresh probe", err)
	}
	if breaker.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1 (cancellation is not a health signal)", breaker.Failures())
	}
}

func TestCaller_UsageAccumulatesAcrossAttempts(t *testing.T) {
	// A call that dies mid-stream still burned tokens; they must count.
	mock := &providers.MockClient{
		Script: []providers.MockCall{
			{
				Text:  "partial",
				Err:   &providers.ProviderError{Kind: providers.ErrKindConnection, Message: "reset"},
				Usage: providers.Usage{},
			},
			{Text: "full output", Usage: providers.Usage{PromptTokens: 10, CompletionTokens: 40}},
		},
	}
	breaker := NewBreaker(BreakerConfig{Name: "gen"})
	caller := NewCaller(mock, breaker, fastRetryConfig(), nil)

	res, err := caller.Generate(context.Background(), &providers.GenerationRequest{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Usage.CompletionTokens != 40 || res.Usage.PromptTokens != 10 {
		t.Errorf("Usage = %+v, want the successful attempt's usage included", res.Usage)
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	caller := NewCaller(providers.NewMockClient(""), NewBreaker(BreakerConfig{Name: "gen"}), RetryConfig{
		Attempts:       4,
		BaseDelay:      time.Second,
		RateLimitDelay: 10 * time.Second,
		MaxDelay:       60 * time.Second,
	}, nil)

	for attempt := uint(0); attempt < 4; attempt++ {
		base := time.Second << attempt
		lo, hi := base, time.Duration(float64(base)*1.3)
		for i := 0; i < 50; i++ {
			d := caller.backoffDelay(attempt, providers.ErrKindOverloaded)
			if d < lo || d > hi {
				t.Fatalf("delay(attempt=%d) = %s, want in [%s, %s]", attempt, d, lo, hi)
			}
		}
	}

	// Two draws for the same failure should differ (jitter is random).
	a := caller.backoffDelay(2, providers.ErrKindOverloaded)
	b := caller.backoffDelay(2, providers.ErrKindOverloaded)
	for i := 0; i < 20 && a == b; i++ {
		b = caller.backoffDelay(2, providers.ErrKindOverloaded)
	}
	if a == b {
		t.Error("jitter produced identical delays across 20 draws")
	}
}

func TestBackoffDelay_RateLimitUsesLongerBase(t *testing.T) {
	caller := NewCaller(providers.NewMockClient(""), NewBreaker(BreakerConfig{Name: "gen"}), RetryConfig{
		Attempts:       4,
		BaseDelay:      time.Second,
		RateLimitDelay: 10 * time.Second,
		MaxDelay:       120 * time.Second,
	}, nil)

	d := caller.backoffDelay(0, providers.ErrKindRateLimited)
	if d < 10*time.Second {
		t.Errorf("rate-limited delay = %s, want >= 10s", d)
	}
	g := caller.backoffDelay(0, providers.ErrKindOverloaded)
	if g >= 10*time.Second {
		t.Errorf("generic transient delay = %s, want < 10s", g)
	}
}
