package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	AnthropicName    = "anthropic"
	AnthropicBaseURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"

	// Streams can idle between deltas while the model thinks; the no-progress
	// watchdog lives in the pipeline, so the transport timeout only bounds
	// dial/header exchange.
	defaultStreamTimeout = 10 * time.Minute
)

// AnthropicConfig holds configuration for the Anthropic streaming client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// AnthropicClient implements StreamClient against the Anthropic Messages
// streaming API. It only translates the wire protocol into normalized
// events; retries and persistence are the caller's concern.
type AnthropicClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	logger       *slog.Logger
}

// NewAnthropicClient creates a new Anthropic streaming client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = AnthropicBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultStreamTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &AnthropicClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		client:       &http.Client{Timeout: cfg.Timeout},
		logger:       cfg.Logger.With("provider", AnthropicName),
	}
}

// Name returns the client identifier.
func (c *AnthropicClient) Name() string {
	return AnthropicName
}

// anthropicMessage is the wire form of a conversation message.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
	Stream    bool               `json:"stream"`
}

// Stream starts a streaming messages call and returns the event sequence.
func (c *AnthropicClient) Stream(ctx context.Context, req *GenerationRequest) (*EventStream, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, &ProviderError{Kind: ErrKindAuthentication, Message: "anthropic api key is empty"}
	}

	wire := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxOutputTokens,
		Stream:    true,
	}
	if wire.Model == "" {
		wire.Model = c.defaultModel
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = 8192
	}
	if req.ReasoningBudget > 0 {
		wire.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.ReasoningBudget}
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			// The Messages API takes the system prompt out of band.
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
			continue
		}
		wire.Messages = append(wire.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &ProviderError{Kind: Classify(err), Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, c.errorFromBody(resp.StatusCode, raw)
	}

	stream := newEventStream(cancel)
	go c.consume(callCtx, resp.Body, stream)
	return stream, nil
}

// errorFromBody maps a non-200 response to a classified error, preferring
// the provider-declared error type over the HTTP status.
func (c *AnthropicClient) errorFromBody(status int, raw []byte) *ProviderError {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Type != "" {
		return &ProviderError{
			Kind:    kindFromAnthropicType(payload.Error.Type, status),
			Message: payload.Error.Message,
		}
	}
	return &ProviderError{
		Kind:    kindFromStatus(status),
		Message: fmt.Sprintf("anthropic error (status %d): %s", status, strings.TrimSpace(string(raw))),
	}
}

// kindFromAnthropicType maps the provider's declared error type verbatim to
// the normalized kind; unknown types fall back to the status mapping.
func kindFromAnthropicType(errType string, status int) ErrorKind {
	switch errType {
	case "overloaded_error":
		return ErrKindOverloaded
	case "rate_limit_error":
		return ErrKindRateLimited
	case "invalid_request_error", "not_found_error", "request_too_large":
		return ErrKindInvalidRequest
	case "authentication_error", "permission_error":
		return ErrKindAuthentication
	case "timeout_error":
		return ErrKindTimeout
	case "api_error":
		return ErrKindConnection
	default:
		return kindFromStatus(status)
	}
}

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	event string
	data  []byte
}

// consume reads the SSE body, translating provider frames into normalized
// events. It owns the terminal event and always closes the stream.
func (c *AnthropicClient) consume(ctx context.Context, body io.ReadCloser, stream *EventStream) {
	defer body.Close()
	defer stream.finish()

	var (
		usage       Usage
		stopReason  string
		sentStarted bool
		curBlock    string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var frame sseFrame
	flush := func() bool {
		defer func() { frame = sseFrame{} }()
		if len(frame.data) == 0 {
			return true
		}
		return c.handleFrame(ctx, frame, stream, &usage, &stopReason, &sentStarted, &curBlock)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			frame.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// Multi-line data fields join with a newline per the SSE spec.
			if len(frame.data) > 0 {
				frame.data = append(frame.data, '\n')
			}
			frame.data = append(frame.data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
		// Comment lines (":") are transport keep-alives; ignore.
	}
	if !flush() {
		return
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		stream.send(ctx, ErrorEvent{Kind: Classify(err), Message: err.Error()})
		return
	}

	// Stream ended without a message_stop: still report what we know.
	if stopReason == "" && ctx.Err() == nil {
		stream.send(ctx, Done{Usage: usage, StopReason: "end_of_stream"})
	}
}

// handleFrame dispatches one SSE frame. Returns false when the stream is
// terminal and consumption should stop.
func (c *AnthropicClient) handleFrame(ctx context.Context, frame sseFrame, stream *EventStream, usage *Usage, stopReason *string, sentStarted *bool, curBlock *string) bool {
	switch frame.event {
	case "ping":
		// Keep-alive; no normalized event.
		return true

	case "message_start":
		var payload struct {
			Message struct {
				Usage struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal(frame.data, &payload); err == nil {
			usage.PromptTokens = payload.Message.Usage.InputTokens
		}
		*sentStarted = true
		return stream.send(ctx, Started{})

	case "content_block_start":
		var payload struct {
			ContentBlock struct {
				Type string `json:"type"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal(frame.data, &payload); err != nil {
			return true
		}
		*curBlock = payload.ContentBlock.Type
		if payload.ContentBlock.Type == "thinking" {
			return stream.send(ctx, ReasoningStarted{})
		}
		return stream.send(ctx, TextStarted{})

	case "content_block_delta":
		var payload struct {
			Delta struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				Thinking string `json:"thinking"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(frame.data, &payload); err != nil {
			return true
		}
		switch payload.Delta.Type {
		case "text_delta":
			if payload.Delta.Text == "" {
				return true
			}
			return stream.send(ctx, TextDelta{Text: payload.Delta.Text})
		case "thinking_delta":
			if payload.Delta.Thinking == "" {
				return true
			}
			return stream.send(ctx, ReasoningDelta{Text: payload.Delta.Thinking})
		}
		return true

	case "content_block_stop":
		if *curBlock == "thinking" {
			*curBlock = ""
			return stream.send(ctx, ReasoningStopped{})
		}
		*curBlock = ""
		return stream.send(ctx, TextStopped{})

	case "message_delta":
		var payload struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(frame.data, &payload); err != nil {
			return true
		}
		usage.CompletionTokens = payload.Usage.OutputTokens
		if payload.Delta.StopReason != "" {
			*stopReason = payload.Delta.StopReason
		}
		return stream.send(ctx, UsageUpdate{Usage: *usage})

	case "message_stop":
		if *stopReason == "" {
			*stopReason = "end_turn"
		}
		stream.send(ctx, Done{Usage: *usage, StopReason: *stopReason})
		return false

	case "error":
		var payload struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		kind := ErrKindConnection
		msg := string(frame.data)
		if err := json.Unmarshal(frame.data, &payload); err == nil && payload.Error.Type != "" {
			kind = kindFromAnthropicType(payload.Error.Type, 0)
			msg = payload.Error.Message
		}
		stream.send(ctx, ErrorEvent{Kind: kind, Message: msg})
		return false

	default:
		// Unknown frame kinds are forward-compatibility noise; log and move on.
		c.logger.Debug("ignoring unknown stream frame", "event", frame.event)
		return true
	}
}
