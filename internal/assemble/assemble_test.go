package assemble

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMarkdownAssembler_Assemble(t *testing.T) {
	dir := t.TempDir()
	a := &MarkdownAssembler{OutputDir: dir}

	artifacts, err := a.Assemble(context.Background(), Manuscript{
		Text:          "# Chapter 1: Start\n\nbody text\n",
		Title:         "The Quiet Machine",
		Author:        "A. Writer",
		Language:      "English",
		MeasuredPages: 12.5,
		MeasuredWords: 3400,
		ChapterBoundaries: []ChapterBoundary{
			{Number: 1, Title: "Start", Offset: 0},
		},
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(artifacts))
	}

	md, err := os.ReadFile(filepath.Join(dir, "the-quiet-machine.md"))
	if err != nil {
		t.Fatalf("manuscript not written: %v", err)
	}
	if !strings.Contains(string(md), "# Chapter 1: Start") {
		t.Error("manuscript text missing")
	}

	meta, err := os.ReadFile(filepath.Join(dir, "the-quiet-machine.meta.yaml"))
	if err != nil {
		t.Fatalf("metadata not written: %v", err)
	}
	for _, want := range []string{"title: The Quiet Machine", "measured_words: 3400"} {
		if !strings.Contains(string(meta), want) {
			t.Errorf("metadata missing %q in:\n%s", want, meta)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Quiet Machine", "the-quiet-machine"},
		{"  Spaces & Symbols!  ", "spaces-symbols"},
		{"", "manuscript"},
		{"---", "manuscript"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
