package providers

import (
	"context"
)

// Role identifies the author of a message in a generation request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest describes one streaming generation call.
type GenerationRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// MaxOutputTokens caps the completion length. Required for long-form
	// chunk sizing; clients apply their own ceiling if 0.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// ReasoningBudget is the provider's thinking-token budget.
	// 0 disables extended reasoning.
	ReasoningBudget int `json:"reasoning_budget,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// StreamClient is implemented by every streaming text-generation backend.
// A client performs exactly one network call per Stream invocation: no
// retries (the resilience layer owns those) and no persistence.
type StreamClient interface {
	// Stream starts a generation call and returns a lazy, finite,
	// non-restartable event sequence. The returned stream must be
	// consumed until Done/ErrorEvent or closed by the caller.
	Stream(ctx context.Context, req *GenerationRequest) (*EventStream, error)

	// Name returns the client identifier (e.g. "anthropic", "openai").
	Name() string
}

// Usage is the token accounting reported by a provider for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens + u.ReasoningTokens
}
