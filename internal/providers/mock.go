package providers

import (
	"context"
	"sync"
	"time"
)

const MockClientName = "mock"

// MockCall scripts the behavior of one Stream invocation on a MockClient.
type MockCall struct {
	// Text is streamed as text deltas. Reasoning, if set, is streamed as a
	// reasoning block before the text.
	Text      string
	Reasoning string

	// Err, when set with empty Text, is returned from Stream directly
	// (a call that never connected). When set alongside Text, the text is
	// streamed first and the error surfaces as an ErrorEvent (a call that
	// died mid-stream).
	Err *ProviderError

	// Usage reported in the Done event. Zero value gets a rough estimate
	// from the text length.
	Usage Usage

	StopReason string
}

// MockClient is a StreamClient for tests. Calls consume the Script in
// order; once the script is exhausted every call behaves like Default.
type MockClient struct {
	Script  []MockCall
	Default MockCall
	Latency time.Duration

	mu       sync.Mutex
	calls    int
	requests []*GenerationRequest
}

// NewMockClient creates a mock that streams a fixed response.
func NewMockClient(text string) *MockClient {
	return &MockClient{
		Default: MockCall{Text: text},
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Calls returns how many times Stream has been invoked.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Requests returns the recorded generation requests in call order.
func (c *MockClient) Requests() []*GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GenerationRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *GenerationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

// Stream replays the next scripted call.
func (c *MockClient) Stream(ctx context.Context, req *GenerationRequest) (*EventStream, error) {
	c.mu.Lock()
	call := c.Default
	if c.calls < len(c.Script) {
		call = c.Script[c.calls]
	}
	c.calls++
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	if call.Err != nil && call.Text == "" {
		return nil, call.Err
	}

	callCtx, cancel := context.WithCancel(ctx)
	stream := newEventStream(cancel)
	go func() {
		defer stream.finish()

		if !stream.send(callCtx, Started{}) {
			return
		}

		if call.Reasoning != "" {
			if !stream.send(callCtx, ReasoningStarted{}) {
				return
			}
			if !stream.send(callCtx, ReasoningDelta{Text: call.Reasoning}) {
				return
			}
			if !stream.send(callCtx, ReasoningStopped{}) {
				return
			}
		}

		if !stream.send(callCtx, TextStarted{}) {
			return
		}
		// Split into a few deltas so consumers exercise accumulation.
		for _, piece := range splitMockText(call.Text, 4) {
			if !stream.send(callCtx, TextDelta{Text: piece}) {
				return
			}
		}
		if !stream.send(callCtx, TextStopped{}) {
			return
		}

		if call.Err != nil {
			stream.send(callCtx, ErrorEvent{Kind: call.Err.Kind, Message: call.Err.Message})
			return
		}

		usage := call.Usage
		if usage == (Usage{}) {
			usage = Usage{
				PromptTokens:     64,
				CompletionTokens: len(call.Text) / 4,
				ReasoningTokens:  len(call.Reasoning) / 4,
			}
		}
		stop := call.StopReason
		if stop == "" {
			stop = "end_turn"
		}
		stream.send(callCtx, Done{Usage: usage, StopReason: stop})
	}()

	return stream, nil
}

// splitMockText cuts s into at most n roughly equal pieces.
func splitMockText(s string, n int) []string {
	if s == "" {
		return nil
	}
	if n <= 1 || len(s) <= n {
		return []string{s}
	}
	size := len(s) / n
	pieces := make([]string, 0, n)
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) || len(pieces) == n-1 {
			end = len(s)
		}
		pieces = append(pieces, s[start:end])
		if end == len(s) {
			break
		}
	}
	return pieces
}
