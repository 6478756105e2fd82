package providers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const OpenAIName = "openai"

// OpenAIConfig holds configuration for the OpenAI streaming client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       *slog.Logger
}

// OpenAIClient implements StreamClient on top of the official SDK's
// chat-completions streaming. The SDK exposes a coarser event model than
// the normalized contract (no block boundaries, usage only in the final
// chunk), so this adapter synthesizes TextStarted/TextStopped around the
// delta run.
type OpenAIClient struct {
	client       openai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewOpenAIClient creates a new OpenAI streaming client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries belong to the resilience layer, not the SDK.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger.With("provider", OpenAIName),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Stream starts a streaming chat completion and returns the event sequence.
func (c *OpenAIClient) Stream(ctx context.Context, req *GenerationRequest) (*EventStream, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.ReasoningBudget > 0 {
		// The SDK has no token-denominated budget; map to effort tiers.
		params.ReasoningEffort = reasoningEffortForBudget(req.ReasoningBudget)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	callCtx, cancel := context.WithCancel(ctx)
	sdkStream := c.client.Chat.Completions.NewStreaming(callCtx, params)

	stream := newEventStream(cancel)
	go func() {
		defer stream.finish()
		defer sdkStream.Close()

		var (
			usage   Usage
			started bool
			inText  bool
		)

		for sdkStream.Next() {
			chunk := sdkStream.Current()

			if !started {
				started = true
				if !stream.send(callCtx, Started{}) {
					return
				}
			}

			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta.Content
				if delta != "" {
					if !inText {
						inText = true
						if !stream.send(callCtx, TextStarted{}) {
							return
						}
					}
					if !stream.send(callCtx, TextDelta{Text: delta}) {
						return
					}
				}
			}

			if chunk.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					ReasoningTokens:  int(chunk.Usage.CompletionTokensDetails.ReasoningTokens),
				}
				if !stream.send(callCtx, UsageUpdate{Usage: usage}) {
					return
				}
			}
		}

		if err := sdkStream.Err(); err != nil && callCtx.Err() == nil {
			stream.send(callCtx, ErrorEvent{Kind: classifyOpenAIError(err), Message: err.Error()})
			return
		}
		if callCtx.Err() != nil {
			return
		}

		if inText {
			if !stream.send(callCtx, TextStopped{}) {
				return
			}
		}
		stream.send(callCtx, Done{Usage: usage, StopReason: "stop"})
	}()

	return stream, nil
}

// reasoningEffortForBudget maps a token budget to the SDK's effort tiers.
func reasoningEffortForBudget(budget int) openai.ReasoningEffort {
	switch {
	case budget >= 16384:
		return openai.ReasoningEffortHigh
	case budget >= 4096:
		return openai.ReasoningEffortMedium
	default:
		return openai.ReasoningEffortLow
	}
}

// classifyOpenAIError maps SDK errors to the normalized kinds.
func classifyOpenAIError(err error) ErrorKind {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return kindFromStatus(apiErr.StatusCode)
	}
	return Classify(err)
}
