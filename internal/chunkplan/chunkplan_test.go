package chunkplan

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/Davinchi1352/bukoai-sub001/internal/outline"
)

func archWithPages(pages ...int) *outline.Architecture {
	arch := &outline.Architecture{Title: "test"}
	for i, p := range pages {
		arch.Chapters = append(arch.Chapters, outline.Chapter{
			Number:      i + 1,
			Title:       fmt.Sprintf("Chapter %d", i+1),
			TargetPages: p,
		})
		arch.TargetPageTotal += p
	}
	return arch
}

func TestBuild_EightyPagesTwelveChapters(t *testing.T) {
	// 80 pages over 12 chapters, the normalized allocation the planner
	// produces: eight chapters of 7 pages and four of 6.
	arch := archWithPages(7, 7, 7, 7, 7, 7, 7, 7, 6, 6, 6, 6)

	plan := Build(arch, Limits{})

	if len(plan.Chunks) != 3 {
		t.Fatalf("len(Chunks) = %d, want 3", len(plan.Chunks))
	}
	for _, c := range plan.Chunks {
		if c.Chapters() > 5 {
			t.Errorf("chunk %d covers %d chapters, want <= 5", c.Index, c.Chapters())
		}
	}
	if plan.TargetPages != 80 {
		t.Errorf("plan.TargetPages = %d, want 80", plan.TargetPages)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	arch := archWithPages(9, 3, 12, 5, 8, 14, 2, 6, 11, 7)

	first := Build(arch, Limits{MaxChapters: 4, MaxPages: 20})
	for i := 0; i < 5; i++ {
		again := Build(arch, Limits{MaxChapters: 4, MaxPages: 20})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d produced a different plan:\n%+v\nvs\n%+v", i, again, first)
		}
	}
}

func TestBuild_PageSumInvariant(t *testing.T) {
	tests := []struct {
		name   string
		pages  []int
		limits Limits
	}{
		{"defaults", []int{7, 7, 7, 7, 7, 7, 7, 7, 6, 6, 6, 6}, Limits{}},
		{"tight pages", []int{10, 10, 10, 10}, Limits{MaxPages: 15}},
		{"tight chapters", []int{1, 1, 1, 1, 1, 1, 1}, Limits{MaxChapters: 2}},
		{"single oversized chapter", []int{90}, Limits{MaxPages: 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch := archWithPages(tt.pages...)
			plan := Build(arch, tt.limits)

			sum := 0
			for _, c := range plan.Chunks {
				sum += c.TargetPages
			}
			if sum != arch.TargetPageTotal {
				t.Errorf("chunk page sum = %d, want architecture total %d", sum, arch.TargetPageTotal)
			}
			if plan.TargetPages != arch.TargetPageTotal {
				t.Errorf("plan.TargetPages = %d, want %d", plan.TargetPages, arch.TargetPageTotal)
			}
		})
	}
}

func TestBuild_ContiguousCoverage(t *testing.T) {
	arch := archWithPages(4, 9, 2, 7, 6, 3, 8, 5)
	plan := Build(arch, Limits{MaxChapters: 3, MaxPages: 14})

	next := 0
	for i, c := range plan.Chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
		if c.First != next {
			t.Errorf("chunk %d starts at chapter %d, want %d (no gaps or overlaps)", i, c.First, next)
		}
		if c.Last < c.First {
			t.Errorf("chunk %d has empty range [%d,%d]", i, c.First, c.Last)
		}
		next = c.Last + 1
	}
	if next != len(arch.Chapters) {
		t.Errorf("plan covers %d chapters, want %d", next, len(arch.Chapters))
	}
}

func TestBuild_OversizedChapterGetsOwnChunk(t *testing.T) {
	// A single chapter above MaxPages still ships as its own chunk.
	arch := archWithPages(5, 60, 5)
	plan := Build(arch, Limits{MaxChapters: 5, MaxPages: 20})

	if len(plan.Chunks) != 3 {
		t.Fatalf("len(Chunks) = %d, want 3: %+v", len(plan.Chunks), plan.Chunks)
	}
	if plan.Chunks[1].First != 1 || plan.Chunks[1].Last != 1 {
		t.Errorf("oversized chapter chunk = [%d,%d], want [1,1]",
			plan.Chunks[1].First, plan.Chunks[1].Last)
	}
	if plan.Chunks[1].TargetPages != 60 {
		t.Errorf("oversized chunk pages = %d, want 60", plan.Chunks[1].TargetPages)
	}
}

func TestBuild_EmptyArchitecture(t *testing.T) {
	plan := Build(nil, Limits{})
	if len(plan.Chunks) != 0 {
		t.Errorf("nil architecture produced %d chunks", len(plan.Chunks))
	}
	plan = Build(&outline.Architecture{}, Limits{})
	if len(plan.Chunks) != 0 {
		t.Errorf("empty architecture produced %d chunks", len(plan.Chunks))
	}
}
