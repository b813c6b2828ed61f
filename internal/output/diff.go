package output

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffResult holds the comparison of two pane captures.
type DiffResult struct {
	Target1     string  `json:"target1"`
	Target2     string  `json:"target2"`
	LineCount1  int     `json:"lines1"`
	LineCount2  int     `json:"lines2"`
	Similarity  float64 `json:"similarity"`
	UnifiedDiff string  `json:"diff,omitempty"`
}

// ComputeDiff compares two captures.
func ComputeDiff(target1, content1, target2, content2 string) *DiffResult {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(content1, content2, true)

	dist := dmp.DiffLevenshtein(diffs)
	maxLen := max(len(content1), len(content2))
	similarity := 1.0
	if maxLen > 0 {
		similarity = 1.0 - (float64(dist) / float64(maxLen))
	}

	patches := dmp.PatchMake(content1, diffs)
	return &DiffResult{
		Target1:     target1,
		Target2:     target2,
		LineCount1:  countLines(content1),
		LineCount2:  countLines(content2),
		Similarity:  similarity,
		UnifiedDiff: dmp.PatchToText(patches),
	}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(strings.TrimRight(s, "\n"), "\n"))
}
