// Package assemble is the hand-off boundary to document production. The
// engine produces one manuscript; exporters for reader-facing formats
// consume it behind the Assembler interface.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ChapterBoundary locates one chapter inside the assembled manuscript.
type ChapterBoundary struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
	Offset int    `json:"offset" yaml:"offset"` // byte offset into the manuscript
}

// Manuscript is the finished text plus the metadata exporters need.
type Manuscript struct {
	Text              string
	Title             string
	Author            string
	Language          string
	ChapterBoundaries []ChapterBoundary
	MeasuredPages     float64
	MeasuredWords     int
}

// Artifact is one produced output file.
type Artifact struct {
	Format string `json:"format"`
	Path   string `json:"path"`
}

// Assembler turns a manuscript into per-format artifacts.
type Assembler interface {
	Assemble(ctx context.Context, m Manuscript) ([]Artifact, error)
}

// MarkdownAssembler writes the manuscript as markdown plus a YAML metadata
// sidecar. Rich exporters (PDF, EPUB, DOCX) live outside this engine and
// consume the same Manuscript.
type MarkdownAssembler struct {
	// OutputDir receives the artifacts (default "output").
	OutputDir string
}

type manuscriptMeta struct {
	Title       string            `yaml:"title"`
	Author      string            `yaml:"author,omitempty"`
	Language    string            `yaml:"language,omitempty"`
	Pages       float64           `yaml:"measured_pages"`
	Words       int               `yaml:"measured_words"`
	AssembledAt time.Time         `yaml:"assembled_at"`
	Chapters    []ChapterBoundary `yaml:"chapters,omitempty"`
}

func (a *MarkdownAssembler) Assemble(_ context.Context, m Manuscript) ([]Artifact, error) {
	dir := a.OutputDir
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := slugify(m.Title)
	mdPath := filepath.Join(dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(m.Text), 0o644); err != nil {
		return nil, fmt.Errorf("write manuscript: %w", err)
	}

	meta := manuscriptMeta{
		Title:       m.Title,
		Author:      m.Author,
		Language:    m.Language,
		Pages:       m.MeasuredPages,
		Words:       m.MeasuredWords,
		AssembledAt: time.Now().UTC(),
		Chapters:    m.ChapterBoundaries,
	}
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	metaPath := filepath.Join(dir, base+".meta.yaml")
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return []Artifact{
		{Format: "markdown", Path: mdPath},
		{Format: "metadata", Path: metaPath},
	}, nil
}

func slugify(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastDash := false
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "manuscript"
	}
	return s
}
