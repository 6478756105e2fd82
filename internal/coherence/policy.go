// Package coherence validates streamed chunks against their page targets and
// against previously accepted content, and drives organic expansion when a
// chunk lands under target.
package coherence

import "strings"

// PagePolicy converts raw text into page and word measurements. The planner
// and the validator must share one policy instance, since the compliance
// ratio is only meaningful when both sides measure pages the same way.
type PagePolicy struct {
	// CharsPerPage is the characters-to-page heuristic (default 2800,
	// roughly a standard manuscript page).
	CharsPerPage int
}

// DefaultPagePolicy returns the standard manuscript measurement policy.
func DefaultPagePolicy() PagePolicy {
	return PagePolicy{CharsPerPage: 2800}
}

func (p PagePolicy) charsPerPage() int {
	if p.CharsPerPage <= 0 {
		return 2800
	}
	return p.CharsPerPage
}

// Measurement is the measured size of a piece of text.
type Measurement struct {
	Chars int     `json:"chars"`
	Words int     `json:"words"`
	Pages float64 `json:"pages"`
}

// Measure computes the measurement for text under this policy.
func (p PagePolicy) Measure(text string) Measurement {
	chars := len([]rune(text))
	return Measurement{
		Chars: chars,
		Words: len(strings.Fields(text)),
		Pages: float64(chars) / float64(p.charsPerPage()),
	}
}

// Compliance returns measured pages divided by the target. A target of zero
// reports full compliance, since there is nothing to miss.
func (p PagePolicy) Compliance(text string, targetPages int) float64 {
	if targetPages <= 0 {
		return 1.0
	}
	return p.Measure(text).Pages / float64(targetPages)
}
