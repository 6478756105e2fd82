package coherence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Davinchi1352/bukoai-sub001/internal/metrics"
	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// Generator is the resilient call surface used for organic expansion.
// Satisfied by *resilience.Caller.
type Generator interface {
	Generate(ctx context.Context, req *providers.GenerationRequest) (*resilience.GenerationResult, error)
}

// ReconcilerConfig tunes the acceptance band and the expansion loop.
type ReconcilerConfig struct {
	// LowerBound is the compliance ratio below which expansion runs
	// (default 0.90).
	LowerBound float64

	// UpperBound closes the acceptance band (default 1.10). Overshoot is
	// accepted as-is; text is never trimmed.
	UpperBound float64

	// MaxExpansions bounds follow-up expansion calls per chunk (default 2).
	MaxExpansions int

	Policy PagePolicy

	Model           string
	MaxOutputTokens int
	Language        string

	Logger *slog.Logger
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.LowerBound <= 0 {
		c.LowerBound = 0.90
	}
	if c.UpperBound <= 0 {
		c.UpperBound = 1.10
	}
	if c.MaxExpansions <= 0 {
		c.MaxExpansions = 2
	}
	if c.Policy.CharsPerPage <= 0 {
		c.Policy = DefaultPagePolicy()
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 32768
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outcome is the reconciled state of one chunk. Text is the original chunk
// plus any accepted expansion output, in order.
type Outcome struct {
	Text       string
	Measured   Measurement
	Compliance float64
	Duplicates []Duplicate
	Expansions int

	// Shortfall is set when the chunk was accepted below the lower bound
	// after the expansion budget ran out. Non-fatal.
	Shortfall bool
}

// Reconciler validates each generated chunk and closes page-count gaps with
// organic expansion calls. It only ever appends to a chunk; accepted prior
// content is never reordered or discarded.
type Reconciler struct {
	gen    Generator
	cfg    ReconcilerConfig
	logger *slog.Logger
}

// NewReconciler creates a reconciler on top of a resilient generation caller.
func NewReconciler(gen Generator, cfg ReconcilerConfig) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{gen: gen, cfg: cfg, logger: cfg.Logger.With("component", "coherence")}
}

// Policy exposes the measurement policy so callers measure consistently.
func (r *Reconciler) Policy() PagePolicy {
	return r.cfg.Policy
}

// Reconcile measures a freshly generated chunk against its page target,
// scans it for duplicated chapter structure, and expands it organically
// while it sits under the lower bound.
//
// Duplicated headers suppress expansion: growing a chunk that already
// repeats accepted structure compounds the problem, so the chunk is
// surfaced as-is with its flags.
//
// A failed expansion call does not invalidate the chunk. The outcome built
// so far is returned along with the error; the caller decides whether to
// defer (breaker open) or accept the shortfall.
func (r *Reconciler) Reconcile(ctx context.Context, text string, targetPages int, prior *HeaderIndex) (*Outcome, providers.Usage, error) {
	var usage providers.Usage

	out := &Outcome{Text: text}
	if prior != nil {
		out.Duplicates = prior.Scan(text)
	}
	r.remeasure(out, targetPages)

	for out.Compliance < r.cfg.LowerBound && len(out.Duplicates) == 0 {
		if out.Expansions >= r.cfg.MaxExpansions {
			out.Shortfall = true
			break
		}

		res, err := r.expand(ctx, out, targetPages)
		if res != nil {
			usage.Add(res.Usage)
		}
		if err != nil {
			out.Shortfall = true
			metrics.ChunkCompliance.Observe(out.Compliance)
			return out, usage, fmt.Errorf("expansion %d: %w", out.Expansions+1, err)
		}

		out.Expansions++
		metrics.ExpansionsTotal.Inc()
		addition := strings.TrimSpace(res.Text)
		if addition == "" {
			// Model had nothing to add; stop asking.
			out.Shortfall = true
			break
		}
		out.Text = out.Text + "\n\n" + addition
		r.remeasure(out, targetPages)

		r.logger.Info("chunk expanded",
			"expansion", out.Expansions,
			"compliance", out.Compliance,
			"added_chars", len(addition))
	}

	if out.Compliance < r.cfg.LowerBound && len(out.Duplicates) == 0 {
		out.Shortfall = true
	}
	metrics.ChunkCompliance.Observe(out.Compliance)
	return out, usage, nil
}

func (r *Reconciler) remeasure(out *Outcome, targetPages int) {
	out.Measured = r.cfg.Policy.Measure(out.Text)
	if targetPages <= 0 {
		out.Compliance = 1.0
		return
	}
	out.Compliance = out.Measured.Pages / float64(targetPages)
}

func (r *Reconciler) expand(ctx context.Context, out *Outcome, targetPages int) (*resilience.GenerationResult, error) {
	gapPages := float64(targetPages) - out.Measured.Pages
	req := &providers.GenerationRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: expansionSystemPrompt},
			{Role: providers.RoleUser, Content: buildExpansionPrompt(out.Text, gapPages, r.cfg.Language)},
		},
		Model:           r.cfg.Model,
		MaxOutputTokens: r.cfg.MaxOutputTokens,
	}
	return r.gen.Generate(ctx, req)
}

const expansionSystemPrompt = `You are extending a book manuscript that came in under its ` +
	`page budget. Deepen and continue the existing content: add detail, examples, and ` +
	`development to the sections already present. Never restate, summarize, or rewrite text ` +
	`that already exists, and never introduce new chapters. Respond with the additional ` +
	`text only, continuing from where the excerpt ends.`

func buildExpansionPrompt(text string, gapPages float64, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following manuscript section needs roughly %.1f more pages of content.\n\n", gapPages)
	b.WriteString("--- CURRENT SECTION ---\n")
	b.WriteString(text)
	b.WriteString("\n--- END SECTION ---\n\n")
	if language != "" {
		fmt.Fprintf(&b, "Write in %s. ", language)
	}
	b.WriteString("Continue and deepen this section. Output only the new text to append.")
	return b.String()
}
