package outline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func TestParse_Fixtures(t *testing.T) {
	tests := []struct {
		name         string
		fixture      string
		targetPages  int
		wantErr      bool
		wantStage    string
		wantChapters int
	}{
		{name: "clean json", fixture: "valid.json", targetPages: 80, wantChapters: 12},
		{name: "markdown fenced", fixture: "fenced.md", targetPages: 40, wantChapters: 4},
		{name: "prose wrapped", fixture: "prose.txt", targetPages: 30, wantChapters: 3},
		{name: "truncated stream", fixture: "malformed.txt", targetPages: 50, wantErr: true, wantStage: "extract"},
		{name: "schema violation", fixture: "schema_violation.json", targetPages: 60, wantErr: true, wantStage: "schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch, err := Parse(readFixture(t, tt.fixture), tt.targetPages)
			if tt.wantErr {
				require.Error(t, err)
				var perr *ParseError
				require.True(t, errors.As(err, &perr), "error must be *ParseError, got %T", err)
				assert.Equal(t, tt.wantStage, perr.Stage)
				return
			}
			require.NoError(t, err)
			require.Len(t, arch.Chapters, tt.wantChapters)
			assert.Equal(t, tt.targetPages, arch.TargetPageTotal)
			assert.Equal(t, tt.targetPages, arch.AllocatedPages(),
				"allocations must be normalized to the target total")
			for i, ch := range arch.Chapters {
				assert.Equal(t, i+1, ch.Number)
				assert.NotEmpty(t, ch.Title)
			}
		})
	}
}

func TestParse_EmptyOutput(t *testing.T) {
	_, err := Parse("   \n", 80)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "extract", perr.Stage)
}

func TestParse_RescalesOverAllocation(t *testing.T) {
	// Model allocated 90 pages against an 80 page target.
	raw := `{
	  "title": "Over Allocated",
	  "target_pages": 90,
	  "chapters": [
	    {"number": 1, "title": "One", "target_pages": 30},
	    {"number": 2, "title": "Two", "target_pages": 30},
	    {"number": 3, "title": "Three", "target_pages": 30}
	  ]
	}`
	arch, err := Parse(raw, 80)
	require.NoError(t, err)
	assert.Equal(t, 80, arch.TargetPageTotal)
	assert.Equal(t, 80, arch.AllocatedPages())
}

func TestNormalizeAllocations_Property(t *testing.T) {
	tests := []struct {
		name     string
		pages    []int
		target   int
	}{
		{"even split drift", []int{7, 7, 7, 7, 7, 7, 7, 7, 6, 6, 6, 6}, 80},
		{"all zeros", []int{0, 0, 0, 0, 0}, 47},
		{"single chapter", []int{3}, 20},
		{"heavy skew", []int{1, 1, 1, 50}, 30},
		{"under target", []int{2, 2, 2}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chapters := make([]Chapter, len(tt.pages))
			for i, p := range tt.pages {
				chapters[i] = Chapter{Number: i + 1, Title: "ch", TargetPages: p}
			}
			normalizeAllocations(chapters, tt.target)

			sum := 0
			for _, ch := range chapters {
				sum += ch.TargetPages
				assert.GreaterOrEqual(t, ch.TargetPages, 1)
			}
			assert.Equal(t, tt.target, sum)
		})
	}
}

func TestNormalizeAllocations_Deterministic(t *testing.T) {
	mk := func() []Chapter {
		return []Chapter{
			{Title: "a", TargetPages: 13},
			{Title: "b", TargetPages: 9},
			{Title: "c", TargetPages: 21},
		}
	}
	a, b := mk(), mk()
	normalizeAllocations(a, 50)
	normalizeAllocations(b, 50)
	assert.Equal(t, a, b)
}
