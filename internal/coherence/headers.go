package coherence

import (
	"regexp"
	"strings"
)

// Duplicate flags a chapter header in a new chunk that collides with a
// header from an already accepted chunk. Duplicates are reported, never
// silently dropped: cross-chapter references to characters and case studies
// are legitimate, only repeated chapter structure is suspect.
type Duplicate struct {
	Header      string `json:"header"`       // header as written in the new chunk
	PriorHeader string `json:"prior_header"` // colliding header from an accepted chunk
	Exact       bool   `json:"exact"`        // normalized-equal vs near-duplicate
}

var (
	headingPattern = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+?)\s*#*\s*$`)
	chapterPrefix  = regexp.MustCompile(`(?i)^(chapter|cap[íi]tulo|chapitre|kapitel)\s+[0-9ivxlc]+\s*[:.\-]?\s*`)
	nonWord        = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// ExtractHeaders returns the markdown chapter and section headings (levels
// one through three) of a chunk in document order.
func ExtractHeaders(text string) []string {
	matches := headingPattern.FindAllStringSubmatch(text, -1)
	headers := make([]string, 0, len(matches))
	for _, m := range matches {
		h := strings.TrimSpace(m[2])
		if h != "" {
			headers = append(headers, h)
		}
	}
	return headers
}

// normalizeHeader folds a heading for comparison: chapter-number prefixes,
// punctuation, and case are all ignored.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = chapterPrefix.ReplaceAllString(h, "")
	h = nonWord.ReplaceAllString(h, "")
	return strings.Join(strings.Fields(h), " ")
}

// nearDuplicate reports whether two normalized headers overlap heavily in
// token content. Catches reworded repeats like "The Feedback Loop" against
// "The Feedback Loop Revisited" without flagging short incidental overlaps.
func nearDuplicate(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(ta))
	for _, w := range ta {
		set[w] = struct{}{}
	}
	common := 0
	for _, w := range tb {
		if _, ok := set[w]; ok {
			common++
		}
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	if smaller < 2 {
		return false
	}
	return float64(common) >= 0.8*float64(smaller)
}

// HeaderIndex accumulates the normalized headers of every accepted chunk so
// later chunks can be scanned against the whole manuscript so far.
type HeaderIndex struct {
	entries []indexEntry
}

type indexEntry struct {
	original   string
	normalized string
}

// NewHeaderIndex returns an empty index.
func NewHeaderIndex() *HeaderIndex {
	return &HeaderIndex{}
}

// Accept records the headers of an accepted chunk.
func (x *HeaderIndex) Accept(text string) {
	for _, h := range ExtractHeaders(text) {
		norm := normalizeHeader(h)
		if norm == "" {
			continue
		}
		x.entries = append(x.entries, indexEntry{original: h, normalized: norm})
	}
}

// Len returns the number of indexed headers.
func (x *HeaderIndex) Len() int {
	return len(x.entries)
}

// Scan checks a new chunk's headers against every accepted header and
// returns the collisions found. The chunk itself is not added to the index;
// call Accept once the chunk is accepted.
func (x *HeaderIndex) Scan(text string) []Duplicate {
	var dups []Duplicate
	for _, h := range ExtractHeaders(text) {
		norm := normalizeHeader(h)
		if norm == "" {
			continue
		}
		for _, prior := range x.entries {
			if norm == prior.normalized {
				dups = append(dups, Duplicate{Header: h, PriorHeader: prior.original, Exact: true})
				break
			}
			if nearDuplicate(norm, prior.normalized) {
				dups = append(dups, Duplicate{Header: h, PriorHeader: prior.original})
				break
			}
		}
	}
	return dups
}
