package orchestrator

import (
	"sync"
	"time"
)

// Journal is a bounded operator log, newest line first. Each line is
// prefixed with an HH:MM:SS stamp.
type Journal struct {
	mu    sync.Mutex
	lines []string
	max   int
	now   func() time.Time
}

// NewJournal creates a journal holding at most max lines.
func NewJournal(max int, now func() time.Time) *Journal {
	if max < 1 {
		max = MaxJournalLines
	}
	if now == nil {
		now = time.Now
	}
	return &Journal{max: max, now: now}
}

// Add prepends a stamped line, dropping the oldest beyond the cap.
func (j *Journal) Add(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	stamped := j.now().Format("15:04:05") + " " + line
	j.lines = append([]string{stamped}, j.lines...)
	if len(j.lines) > j.max {
		j.lines = j.lines[:j.max]
	}
}

// Lines returns a copy of the journal, newest first.
func (j *Journal) Lines() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

// Restore replaces the journal with lines, already newest first.
func (j *Journal) Restore(lines []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(lines) > j.max {
		lines = lines[:j.max]
	}
	j.lines = append([]string(nil), lines...)
}
