package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Davinchi1352/bukoai-sub001/internal/assemble"
	"github.com/Davinchi1352/bukoai-sub001/internal/chunkplan"
	"github.com/Davinchi1352/bukoai-sub001/internal/coherence"
	"github.com/Davinchi1352/bukoai-sub001/internal/metrics"
	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// ErrAwaitingApproval stops the pipeline after the architecture phase; the
// job resumes when the user approves or regenerates the outline.
var ErrAwaitingApproval = errors.New("awaiting architecture approval")

// manuscriptTailChars is how much accepted text accompanies the next chunk
// prompt for continuity.
const manuscriptTailChars = 6000

// Pricing estimates cost from token usage, in USD per million tokens.
// Reasoning tokens bill at the completion rate.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// Cost returns the estimated cost of a usage report.
func (p Pricing) Cost(u providers.Usage) float64 {
	return float64(u.PromptTokens)*p.PromptPerMTok/1e6 +
		float64(u.CompletionTokens+u.ReasoningTokens)*p.CompletionPerMTok/1e6
}

// PipelineConfig wires the phase driver.
type PipelineConfig struct {
	Planner    *outline.Planner
	Generator  coherence.Generator
	Reconciler *coherence.Reconciler
	Store      Store
	Progress   Sink
	Assembler  assemble.Assembler

	ChunkLimits chunkplan.Limits
	Pricing     Pricing

	Model           string
	MaxOutputTokens int // per chunk call (default 32768)
	ReasoningBudget int

	// ArchitectureTimeout is the hard wall clock for the outline phase
	// (default 40m); ChunkTimeout for one chunk including its expansions
	// (default 60m). The soft no-progress timeout lives in the resilient
	// caller's stream watchdog.
	ArchitectureTimeout time.Duration
	ChunkTimeout        time.Duration

	Logger *slog.Logger
}

func (c *PipelineConfig) applyDefaults() {
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 32768
	}
	if c.ArchitectureTimeout <= 0 {
		c.ArchitectureTimeout = 40 * time.Minute
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 60 * time.Minute
	}
	if c.Progress == nil {
		c.Progress = LogSink{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline drives one job through its phases: outline, approval gate, chunk
// generation, reconciliation, assembly hand-off. Phases within a job are
// strictly sequential; cancellation is honored at phase boundaries only.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates the phase driver.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg, logger: cfg.Logger.With("component", "pipeline")}
}

// Run executes the job from its current status. It returns
// ErrAwaitingApproval when the outline is ready for review, nil when the
// job reached completed, and an error otherwise. Resource-exhaustion
// errors (breaker open) propagate so the scheduler can defer the job.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	logger := p.logger.With("job_id", job.ID)

	if job.Status.Terminal() {
		logger.Info("job already terminal", "status", job.Status)
		return nil
	}

	// A job found in architecture was interrupted mid-phase; the outline
	// call is re-run from scratch (its status replay is idempotent).
	if job.Status == StatusQueued || job.Status == StatusArchitecture {
		if err := p.architecturePhase(ctx, job, logger); err != nil {
			return err
		}
		return ErrAwaitingApproval
	}

	if job.Status == StatusAwaitingApproval {
		if !job.Approved {
			return ErrAwaitingApproval
		}
		if err := p.cfg.Store.UpdateStatus(ctx, job.ID, StatusGenerating, nil); err != nil {
			return err
		}
		job.Status = StatusGenerating
	}

	if job.Status == StatusGenerating {
		if err := p.generationPhase(ctx, job, logger); err != nil {
			return err
		}
	}

	return p.finishPhase(ctx, job.ID, logger)
}

// architecturePhase runs the outline call and parks the job for approval.
func (p *Pipeline) architecturePhase(ctx context.Context, job *Job, logger *slog.Logger) error {
	if err := p.cfg.Store.UpdateStatus(ctx, job.ID, StatusArchitecture, nil); err != nil {
		return err
	}
	p.report(job.ID, "architecture", 5, "designing the book outline")

	phaseCtx, cancel := context.WithTimeout(ctx, p.cfg.ArchitectureTimeout)
	defer cancel()

	arch, usage, err := p.cfg.Planner.Generate(phaseCtx, job.Params)
	p.appendUsage(ctx, job.ID, "architecture", usage)
	if err != nil {
		return p.failOrDefer(ctx, job.ID, "architecture", err, logger)
	}

	if err := p.cfg.Store.Update(ctx, job.ID, func(j *Job) error {
		j.Architecture = arch
		j.Approved = false
		return nil
	}); err != nil {
		return err
	}
	if err := p.cfg.Store.UpdateStatus(ctx, job.ID, StatusAwaitingApproval, nil); err != nil {
		return err
	}
	p.report(job.ID, "awaiting_approval", 15, "outline ready for review")
	logger.Info("architecture produced", "chapters", len(arch.Chapters))
	return nil
}

// Regenerate replaces a parked job's architecture using user feedback. The
// job stays in awaiting_approval; each pass adds its usage to the job.
func (p *Pipeline) Regenerate(ctx context.Context, jobID string, fb outline.Feedback) error {
	job, err := p.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusAwaitingApproval {
		return fmt.Errorf("job %s is %s, regeneration requires awaiting_approval", jobID, job.Status)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, p.cfg.ArchitectureTimeout)
	defer cancel()

	p.report(jobID, "architecture", 10, "reworking the outline from feedback")
	arch, usage, err := p.cfg.Planner.Regenerate(phaseCtx, job.Params, job.Architecture, fb)
	p.appendUsage(ctx, jobID, "architecture", usage)
	if err != nil {
		return err
	}

	return p.cfg.Store.Update(ctx, jobID, func(j *Job) error {
		j.Architecture = arch
		j.Approved = false
		return nil
	})
}

// generationPhase walks the chunk plan sequentially, reconciling each chunk
// before the next starts. Completed chunks survive a worker restart: the
// plan is deterministic and ChunksAccepted records the resume point.
func (p *Pipeline) generationPhase(ctx context.Context, job *Job, logger *slog.Logger) error {
	if job.Architecture == nil {
		return p.fail(ctx, job.ID, "generating", &Failure{
			Kind: "contract", Phase: "generating", Message: "job has no architecture",
		})
	}

	plan := chunkplan.Build(job.Architecture, p.cfg.ChunkLimits)
	if len(plan.Chunks) == 0 {
		return p.fail(ctx, job.ID, "generating", &Failure{
			Kind: "contract", Phase: "generating", Message: "empty chunk plan",
		})
	}

	headers := coherence.NewHeaderIndex()
	if job.Manuscript != "" {
		headers.Accept(job.Manuscript)
	}

	for i := job.ChunksAccepted; i < len(plan.Chunks); i++ {
		if cancelled, err := p.cancelledAtBoundary(ctx, job.ID); err != nil || cancelled {
			return err
		}

		chunk := plan.Chunks[i]
		percent := 20 + 70*float64(i)/float64(len(plan.Chunks))
		p.report(job.ID, "generating", percent,
			fmt.Sprintf("writing chapters %d-%d", chunk.First+1, chunk.Last+1))

		outcome, err := p.runChunk(ctx, job, chunk, headers)
		if err != nil {
			return p.failOrDefer(ctx, job.ID, "generating", err, logger)
		}

		headers.Accept(outcome.Text)
		job.ChunksAccepted = i + 1
		if job.Manuscript != "" {
			job.Manuscript += "\n\n"
		}
		job.Manuscript += outcome.Text
		job.Shortfall = job.Shortfall || outcome.Shortfall
		job.DuplicateHeaders = append(job.DuplicateHeaders, outcome.Duplicates...)

		if err := p.cfg.Store.Update(ctx, job.ID, func(j *Job) error {
			j.Manuscript = job.Manuscript
			j.ChunksAccepted = job.ChunksAccepted
			j.Shortfall = job.Shortfall
			j.DuplicateHeaders = job.DuplicateHeaders
			return nil
		}); err != nil {
			return err
		}

		logger.Info("chunk accepted",
			"chunk", i+1,
			"of", len(plan.Chunks),
			"compliance", outcome.Compliance,
			"expansions", outcome.Expansions,
			"shortfall", outcome.Shortfall,
			"duplicates", len(outcome.Duplicates))
	}
	return nil
}

// runChunk issues the generation call for one chunk and reconciles the
// result under the chunk's hard timeout.
func (p *Pipeline) runChunk(ctx context.Context, job *Job, chunk chunkplan.Chunk, headers *coherence.HeaderIndex) (*coherence.Outcome, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
	defer cancel()

	req := &providers.GenerationRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: chunkSystemPrompt},
			{Role: providers.RoleUser, Content: buildChunkPrompt(job, chunk)},
		},
		Model:           p.cfg.Model,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
		ReasoningBudget: p.cfg.ReasoningBudget,
	}

	res, err := p.cfg.Generator.Generate(chunkCtx, req)
	if res != nil {
		p.appendUsage(ctx, job.ID, "chunk", res.Usage)
	}
	if err != nil {
		return nil, err
	}
	if res.Retries > 0 {
		if uerr := p.cfg.Store.Update(ctx, job.ID, func(j *Job) error {
			j.Retries += res.Retries
			return nil
		}); uerr != nil {
			return nil, uerr
		}
	}

	outcome, usage, rerr := p.cfg.Reconciler.Reconcile(chunkCtx, res.Text, chunk.TargetPages, headers)
	p.appendUsage(ctx, job.ID, "expansion", usage)
	if outcome == nil {
		return nil, rerr
	}
	if rerr != nil {
		// Keep the chunk; the shortfall is recorded in the outcome and
		// the job completes without the extra pages.
		p.logger.Warn("expansion abandoned", "job_id", job.ID, "error", rerr)
	}
	return outcome, nil
}

// finishPhase measures the final manuscript, hands it to the assembler, and
// marks the job completed.
func (p *Pipeline) finishPhase(ctx context.Context, jobID string, logger *slog.Logger) error {
	if cancelled, err := p.cancelledAtBoundary(ctx, jobID); err != nil || cancelled {
		return err
	}
	if err := p.cfg.Store.UpdateStatus(ctx, jobID, StatusReconciling, nil); err != nil {
		return err
	}
	p.report(jobID, "reconciling", 95, "assembling the manuscript")

	job, err := p.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	policy := p.cfg.Reconciler.Policy()
	measured := policy.Measure(job.Manuscript)
	if err := p.cfg.Store.Update(ctx, jobID, func(j *Job) error {
		j.MeasuredPages = measured.Pages
		j.MeasuredWords = measured.Words
		return nil
	}); err != nil {
		return err
	}

	if p.cfg.Assembler != nil {
		m := assemble.Manuscript{
			Text:              job.Manuscript,
			Title:             job.Params.Title,
			Author:            job.UserID,
			Language:          job.Params.Language,
			ChapterBoundaries: chapterBoundaries(job.Manuscript),
			MeasuredPages:     measured.Pages,
			MeasuredWords:     measured.Words,
		}
		if _, err := p.cfg.Assembler.Assemble(ctx, m); err != nil {
			// Assembly is a hand-off; the manuscript itself is done.
			logger.Error("assembly failed", "error", err)
		}
	}

	if err := p.cfg.Store.UpdateStatus(ctx, jobID, StatusCompleted, nil); err != nil {
		return err
	}
	p.report(jobID, "completed", 100, "book generation finished")
	metrics.JobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	logger.Info("job completed",
		"pages", measured.Pages,
		"words", measured.Words,
		"shortfall", job.Shortfall)
	return nil
}

// cancelledAtBoundary checks for a user cancellation between phases.
func (p *Pipeline) cancelledAtBoundary(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	job, err := p.cfg.Store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status == StatusCancelled {
		p.report(jobID, "cancelled", 100, "job cancelled")
		return true, nil
	}
	return false, nil
}

// failOrDefer converts a phase error into either a deferral (breaker open,
// provider still rate limited after retries) or a terminal failure.
func (p *Pipeline) failOrDefer(ctx context.Context, jobID, phase string, err error, logger *slog.Logger) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Warn("dependency unavailable, deferring job", "phase", phase)
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var perr *outline.ParseError
	kind := string(providers.Classify(err))
	if errors.As(err, &perr) {
		kind = "contract"
	}
	return p.fail(ctx, jobID, phase, &Failure{
		Kind:    kind,
		Phase:   phase,
		Message: err.Error(),
	})
}

func (p *Pipeline) fail(ctx context.Context, jobID, phase string, failure *Failure) error {
	if err := p.cfg.Store.UpdateStatus(ctx, jobID, StatusFailed, failure); err != nil {
		return err
	}
	p.report(jobID, phase, 100, "job failed: "+failure.Message)
	metrics.JobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return fmt.Errorf("%s phase failed (%s): %s", phase, failure.Kind, failure.Message)
}

func (p *Pipeline) appendUsage(ctx context.Context, jobID, phase string, usage providers.Usage) {
	if usage.Total() == 0 {
		return
	}
	metrics.TokensTotal.WithLabelValues(phase, "prompt").Add(float64(usage.PromptTokens))
	metrics.TokensTotal.WithLabelValues(phase, "completion").Add(float64(usage.CompletionTokens))
	metrics.TokensTotal.WithLabelValues(phase, "reasoning").Add(float64(usage.ReasoningTokens))
	if err := p.cfg.Store.AppendUsage(ctx, jobID, usage, p.cfg.Pricing.Cost(usage)); err != nil {
		p.logger.Error("usage append failed", "job_id", jobID, "error", err)
	}
}

func (p *Pipeline) report(jobID, phase string, percent float64, message string) {
	p.cfg.Progress.Report(ProgressEvent{
		JobID:     jobID,
		Phase:     phase,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

const chunkSystemPrompt = `You are writing the full text of a book, one contiguous block of ` +
	`chapters at a time. Write complete, polished prose in markdown. Start each chapter with a ` +
	`level-one heading formatted as "# Chapter N: Title" using the exact titles from the ` +
	`outline. Do not repeat chapters that were already written, do not write chapters outside ` +
	`your assigned range, and do not summarize. Continue the narrative voice of the text so far.`

func buildChunkPrompt(job *Job, chunk chunkplan.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\nGenre: %s\nAudience: %s\nTone: %s\nLanguage: %s\n\n",
		job.Params.Title, job.Params.Genre, job.Params.Audience, job.Params.Tone, job.Params.Language)

	if enc, err := json.Marshal(job.Architecture); err == nil {
		b.WriteString("Full outline:\n")
		b.Write(enc)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Write chapters %d through %d, targeting %d pages total:\n",
		chunk.First+1, chunk.Last+1, chunk.TargetPages)
	for i := chunk.First; i <= chunk.Last && i < len(job.Architecture.Chapters); i++ {
		ch := job.Architecture.Chapters[i]
		fmt.Fprintf(&b, "- Chapter %d: %s (%d pages): %s\n", ch.Number, ch.Title, ch.TargetPages, ch.Summary)
	}

	if job.Manuscript != "" {
		tail := job.Manuscript
		if len(tail) > manuscriptTailChars {
			tail = tail[len(tail)-manuscriptTailChars:]
		}
		b.WriteString("\nThe manuscript so far ends with:\n--- PREVIOUS TEXT ---\n")
		b.WriteString(tail)
		b.WriteString("\n--- END PREVIOUS TEXT ---\n")
	}
	return b.String()
}
