package outline

import (
	"encoding/json"
	"fmt"
	"strings"
)

const plannerSystemPrompt = `You are a professional book architect. You design complete, ` +
	`publishable book outlines with chapter-level page budgets. Respond with a single JSON ` +
	`object and nothing else: no markdown fences, no commentary. The JSON must have this shape:
{
  "title": string,
  "target_pages": integer,
  "chapters": [
    {"number": integer, "title": string, "summary": string, "target_pages": integer,
     "characters": [string], "case_studies": [string]}
  ],
  "recurring_characters": [{"name": string, "role": string}],
  "case_studies": [{"title": string, "description": string}],
  "special_sections": [{"title": string, "placement": string}]
}
Chapter page allocations must sum to target_pages. Chapter titles must be unique.`

func buildOutlinePrompt(p BookParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design the architecture for a book.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", p.Title)
	fmt.Fprintf(&b, "Genre: %s\n", p.Genre)
	if p.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", p.Audience)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", p.Tone)
	}
	if len(p.Topics) > 0 {
		fmt.Fprintf(&b, "Topics to cover: %s\n", strings.Join(p.Topics, "; "))
	}
	fmt.Fprintf(&b, "Language: %s\n", p.Language)
	fmt.Fprintf(&b, "Target length: %d pages across exactly %d chapters.\n", p.TargetPages, p.ChapterCount)
	if p.FormatHints != "" {
		fmt.Fprintf(&b, "Formatting notes: %s\n", p.FormatHints)
	}
	fmt.Fprintf(&b, "\nWrite the outline in %s. Allocate pages per chapter so they sum to %d.",
		p.Language, p.TargetPages)
	return b.String()
}

func buildRegenerationPrompt(p BookParams, prior *Architecture, fb Feedback) string {
	var b strings.Builder
	b.WriteString(buildOutlinePrompt(p))
	b.WriteString("\n\nA previous outline was rejected by the reader. Previous outline:\n")
	if prior != nil {
		if enc, err := json.Marshal(prior); err == nil {
			b.Write(enc)
		}
	}
	b.WriteString("\n\nReader feedback:\n")
	if fb.Dislike != "" {
		fmt.Fprintf(&b, "What did not work: %s\n", fb.Dislike)
	}
	if fb.Change != "" {
		fmt.Fprintf(&b, "What to change: %s\n", fb.Change)
	}
	b.WriteString("\nProduce a new outline that addresses the feedback. " +
		"Keep what the feedback does not object to.")
	return b.String()
}
