package outline

import (
	"context"
	"log/slog"

	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// Generator is the resilient call surface the planner drives. Satisfied by
// *resilience.Caller.
type Generator interface {
	Generate(ctx context.Context, req *providers.GenerationRequest) (*resilience.GenerationResult, error)
}

// PlannerConfig tunes the architecture call.
type PlannerConfig struct {
	Model           string
	MaxOutputTokens int // default 16384
	ReasoningBudget int // default 4096
	Logger          *slog.Logger
}

// Planner issues the single streaming call that produces a book architecture
// and parses the result. Retries and breaker discipline live in the caller
// it wraps; parse failures are surfaced as *ParseError and never retried.
type Planner struct {
	gen    Generator
	cfg    PlannerConfig
	logger *slog.Logger
}

// NewPlanner creates a planner on top of a resilient generation caller.
func NewPlanner(gen Generator, cfg PlannerConfig) *Planner {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 16384
	}
	if cfg.ReasoningBudget < 0 {
		cfg.ReasoningBudget = 0
	} else if cfg.ReasoningBudget == 0 {
		cfg.ReasoningBudget = 4096
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gen: gen, cfg: cfg, logger: logger.With("component", "outline")}
}

// Generate produces a fresh architecture for the given parameters. Usage is
// returned even on failure so the job's cumulative accounting stays correct.
func (p *Planner) Generate(ctx context.Context, params BookParams) (*Architecture, providers.Usage, error) {
	return p.plan(ctx, buildOutlinePrompt(params), params)
}

// Regenerate produces a replacement architecture driven by user feedback on
// a prior one. Callers may invoke this any number of times; each pass is a
// full fresh call whose usage accumulates on the job.
func (p *Planner) Regenerate(ctx context.Context, params BookParams, prior *Architecture, fb Feedback) (*Architecture, providers.Usage, error) {
	return p.plan(ctx, buildRegenerationPrompt(params, prior, fb), params)
}

func (p *Planner) plan(ctx context.Context, prompt string, params BookParams) (*Architecture, providers.Usage, error) {
	req := &providers.GenerationRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: plannerSystemPrompt},
			{Role: providers.RoleUser, Content: prompt},
		},
		Model:           p.cfg.Model,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
		ReasoningBudget: p.cfg.ReasoningBudget,
	}

	res, err := p.gen.Generate(ctx, req)
	if err != nil {
		if res != nil {
			return nil, res.Usage, err
		}
		return nil, providers.Usage{}, err
	}

	arch, err := Parse(res.Text, params.TargetPages)
	if err != nil {
		p.logger.Error("outline parse failed",
			"error", err,
			"output_bytes", len(res.Text))
		return nil, res.Usage, err
	}

	p.logger.Info("outline produced",
		"chapters", len(arch.Chapters),
		"target_pages", arch.TargetPageTotal,
		"retries", res.Retries,
		"tokens", res.Usage.Total())
	return arch, res.Usage, nil
}
