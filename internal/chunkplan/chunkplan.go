// Package chunkplan partitions an approved architecture into bounded
// generation units. Each chunk covers a contiguous run of chapters sized so
// one streaming call can produce it inside the output-token budget.
package chunkplan

import "github.com/Davinchi1352/bukoai-sub001/internal/outline"

// Limits bound a single chunk.
type Limits struct {
	// MaxChapters caps chapters per chunk (default 5).
	MaxChapters int

	// MaxPages caps the accumulated target page count per chunk. A chunk
	// always takes at least one chapter even when that chapter alone
	// exceeds the cap (default 40, sized so the chunk's expected output
	// fits inside the generation call's max-output-token budget).
	MaxPages int
}

func (l *Limits) applyDefaults() {
	if l.MaxChapters <= 0 {
		l.MaxChapters = 5
	}
	if l.MaxPages <= 0 {
		l.MaxPages = 40
	}
}

// Chunk describes one generation unit: a contiguous chapter-index range
// [First, Last] and the page target its chapters carry.
type Chunk struct {
	Index       int // position in the plan, 0-based
	First       int // first chapter index, 0-based, inclusive
	Last        int // last chapter index, 0-based, inclusive
	TargetPages int
}

// Chapters returns how many chapters the chunk covers.
func (c Chunk) Chapters() int {
	return c.Last - c.First + 1
}

// Plan is an ordered chunk sequence derived from one architecture.
type Plan struct {
	Chunks      []Chunk
	TargetPages int
}

// Build derives the chunk plan for an architecture. The walk is greedy over
// chapters in order: a chapter joins the current chunk unless doing so would
// exceed either limit. The result is deterministic for a given architecture,
// which jobs rely on when resuming at the chunk level.
func Build(arch *outline.Architecture, limits Limits) Plan {
	limits.applyDefaults()

	plan := Plan{}
	if arch == nil || len(arch.Chapters) == 0 {
		return plan
	}

	cur := Chunk{First: 0, Last: -1}
	flush := func() {
		if cur.Last >= cur.First {
			cur.Index = len(plan.Chunks)
			plan.Chunks = append(plan.Chunks, cur)
		}
	}

	for i, ch := range arch.Chapters {
		pages := ch.TargetPages
		full := cur.Last >= cur.First &&
			(cur.Chapters() >= limits.MaxChapters || cur.TargetPages+pages > limits.MaxPages)
		if full {
			flush()
			cur = Chunk{First: i, Last: i - 1}
		}
		cur.Last = i
		cur.TargetPages += pages
	}
	flush()

	for _, c := range plan.Chunks {
		plan.TargetPages += c.TargetPages
	}
	return plan
}
