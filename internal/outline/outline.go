// Package outline produces and validates the structured book architecture
// that drives chunked generation: the ordered chapter list with per-chapter
// page allocations, recurring characters, case studies, and special sections.
package outline

import "strings"

// BookParams are the normalized user inputs for one book request.
type BookParams struct {
	Title        string   `json:"title"`
	Genre        string   `json:"genre"`
	Audience     string   `json:"audience"`
	Tone         string   `json:"tone"`
	Topics       []string `json:"topics,omitempty"`
	TargetPages  int      `json:"target_pages"`
	ChapterCount int      `json:"chapter_count"`
	Language     string   `json:"language"`
	FormatHints  string   `json:"format_hints,omitempty"`
}

// Feedback carries the user's rejection notes for a regeneration pass.
type Feedback struct {
	// Dislike describes what did not work in the prior outline.
	Dislike string `json:"dislike"`
	// Change describes what the user wants done differently.
	Change string `json:"change"`
}

// Chapter is one ordered chapter descriptor in an architecture.
type Chapter struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	TargetPages int      `json:"target_pages"`
	Characters  []string `json:"characters,omitempty"`
	CaseStudies []string `json:"case_studies,omitempty"`
}

// Character is a recurring character carried across chapters.
type Character struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// CaseStudy is a worked example referenced from one or more chapters.
type CaseStudy struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SpecialSection is non-chapter front or back matter the model plans for
// (introduction, glossary, appendix).
type SpecialSection struct {
	Title     string `json:"title"`
	Placement string `json:"placement"`
}

// Architecture is the structured outline of a book. It is created whole by
// the planner and replaced, never mutated, on regeneration.
type Architecture struct {
	Title               string           `json:"title"`
	TargetPageTotal     int              `json:"target_pages"`
	Chapters            []Chapter        `json:"chapters"`
	RecurringCharacters []Character      `json:"recurring_characters,omitempty"`
	CaseStudies         []CaseStudy      `json:"case_studies,omitempty"`
	SpecialSections     []SpecialSection `json:"special_sections,omitempty"`
}

// AllocatedPages returns the sum of per-chapter page allocations.
func (a *Architecture) AllocatedPages() int {
	sum := 0
	for _, ch := range a.Chapters {
		sum += ch.TargetPages
	}
	return sum
}

// ChapterTitles returns the chapter titles in order.
func (a *Architecture) ChapterTitles() []string {
	titles := make([]string, len(a.Chapters))
	for i, ch := range a.Chapters {
		titles[i] = ch.Title
	}
	return titles
}

// normalizeAllocations rescales chapter page allocations so they sum to
// exactly target. Proportions are preserved with largest-remainder rounding;
// a chapter never drops below one page. Model output frequently allocates a
// few pages over or under, so this runs on every parsed architecture.
func normalizeAllocations(chapters []Chapter, target int) {
	if len(chapters) == 0 || target <= 0 {
		return
	}

	current := 0
	for _, ch := range chapters {
		current += ch.TargetPages
	}
	if current == target {
		return
	}

	// Degenerate model output: no usable allocations, split evenly.
	if current <= 0 {
		base := target / len(chapters)
		rem := target % len(chapters)
		for i := range chapters {
			chapters[i].TargetPages = base
			if i < rem {
				chapters[i].TargetPages++
			}
		}
		return
	}

	type share struct {
		idx  int
		frac float64
	}
	shares := make([]share, len(chapters))
	assigned := 0
	for i, ch := range chapters {
		exact := float64(ch.TargetPages) * float64(target) / float64(current)
		whole := int(exact)
		if whole < 1 {
			whole = 1
		}
		chapters[i].TargetPages = whole
		assigned += whole
		shares[i] = share{idx: i, frac: exact - float64(whole)}
	}

	// Distribute the rounding remainder one page at a time, largest
	// fractional share first, cycling if the remainder exceeds the
	// chapter count.
	for assigned < target {
		best := 0
		for i := 1; i < len(shares); i++ {
			if shares[i].frac > shares[best].frac {
				best = i
			}
		}
		chapters[shares[best].idx].TargetPages++
		shares[best].frac--
		assigned++
	}
	for assigned > target {
		best := -1
		for i := range shares {
			if chapters[shares[i].idx].TargetPages <= 1 {
				continue
			}
			if best == -1 || shares[i].frac < shares[best].frac {
				best = i
			}
		}
		if best == -1 {
			break
		}
		chapters[shares[best].idx].TargetPages--
		shares[best].frac++
		assigned--
	}
}

// normalize renumbers chapters sequentially, trims whitespace from titles,
// and rescales page allocations to the target total.
func (a *Architecture) normalize() {
	for i := range a.Chapters {
		a.Chapters[i].Number = i + 1
		a.Chapters[i].Title = strings.TrimSpace(a.Chapters[i].Title)
	}
	normalizeAllocations(a.Chapters, a.TargetPageTotal)
}
