package providers

import (
	"context"
	"testing"
)

func TestMockClient_Script(t *testing.T) {
	mock := &MockClient{
		Script: []MockCall{
			{Err: &ProviderError{Kind: ErrKindOverloaded, Message: "busy"}},
			{Text: "second call works"},
		},
		Default: MockCall{Text: "default"},
	}

	ctx := context.Background()
	req := &GenerationRequest{Messages: []Message{{Role: RoleUser, Content: "go"}}}

	// First scripted call fails before connecting.
	if _, err := mock.Stream(ctx, req); err == nil {
		t.Fatal("first call error = nil, want overloaded")
	}

	// Second scripted call succeeds.
	stream, err := mock.Stream(ctx, req)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	text, _, usage, err := Collect(ctx, stream)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "second call works" {
		t.Errorf("text = %q", text)
	}
	if usage.CompletionTokens == 0 {
		t.Error("usage.CompletionTokens = 0, want estimate")
	}

	// Script exhausted: default takes over.
	stream, err = mock.Stream(ctx, req)
	if err != nil {
		t.Fatalf("third call error = %v", err)
	}
	text, _, _, _ = Collect(ctx, stream)
	if text != "default" {
		t.Errorf("text = %q, want default", text)
	}

	if mock.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", mock.Calls())
	}
}

func TestErrorKind_Transient(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindOverloaded, true},
		{ErrKindRateLimited, true},
		{ErrKindTimeout, true},
		{ErrKindConnection, true},
		{ErrKindInvalidRequest, false},
		{ErrKindAuthentication, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Transient(); got != tt.want {
			t.Errorf("%s.Transient() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestClassify_Passthrough(t *testing.T) {
	err := &ProviderError{Kind: ErrKindRateLimited, Message: "slow down"}
	if got := Classify(err); got != ErrKindRateLimited {
		t.Errorf("Classify() = %s, want rate_limited", got)
	}
	if got := Classify(context.DeadlineExceeded); got != ErrKindTimeout {
		t.Errorf("Classify(deadline) = %s, want timeout", got)
	}
}

func TestUsage_Add(t *testing.T) {
	var u Usage
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 20, ReasoningTokens: 5})
	u.Add(Usage{PromptTokens: 1, CompletionTokens: 2, ReasoningTokens: 3})
	if u.PromptTokens != 11 || u.CompletionTokens != 22 || u.ReasoningTokens != 8 {
		t.Errorf("Usage after Add = %+v", u)
	}
	if u.Total() != 41 {
		t.Errorf("Total() = %d, want 41", u.Total())
	}
}

func TestMockClient_MidStreamError(t *testing.T) {
	mock := &MockClient{
		Script: []MockCall{
			{Text: "partial content", Err: &ProviderError{Kind: ErrKindConnection, Message: "reset"}},
		},
	}

	ctx := context.Background()
	stream, err := mock.Stream(ctx, &GenerationRequest{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, _, _, err := Collect(ctx, stream)
	if text != "partial content" {
		t.Errorf("text = %q", text)
	}
	if Classify(err) != ErrKindConnection {
		t.Errorf("Classify() = %s, want connection", Classify(err))
	}
}
