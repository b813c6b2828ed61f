package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/uprootiny/manicctl/internal/panel"
)

// Delta summarises what changed between two state snapshots.
type Delta struct {
	First             bool           `json:"first"`
	SessionsAdded     []string       `json:"sessions_added,omitempty"`
	SessionsRemoved   []string       `json:"sessions_removed,omitempty"`
	CandidatesAdded   []string       `json:"candidates_added,omitempty"`
	CandidatesRemoved []string       `json:"candidates_removed,omitempty"`
	QueueDepthChange  int            `json:"queue_depth_change"`
	SmokeFrom         string         `json:"smoke_from,omitempty"`
	SmokeTo           string         `json:"smoke_to,omitempty"`
	CaptureChanges    map[string]int `json:"capture_changes,omitempty"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return !d.First && len(d.SessionsAdded) == 0 && len(d.SessionsRemoved) == 0 &&
		len(d.CandidatesAdded) == 0 && len(d.CandidatesRemoved) == 0 &&
		d.QueueDepthChange == 0 && d.SmokeFrom == d.SmokeTo && len(d.CaptureChanges) == 0
}

// Summary renders the delta on one line.
func (d Delta) Summary() string {
	if d.First {
		return "initial snapshot"
	}
	if d.Empty() {
		return "no change"
	}
	var parts []string
	add := func(label string, xs []string) {
		if len(xs) > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", label, strings.Join(xs, ",")))
		}
	}
	add("+sessions", d.SessionsAdded)
	add("-sessions", d.SessionsRemoved)
	add("+targets", d.CandidatesAdded)
	add("-targets", d.CandidatesRemoved)
	if d.QueueDepthChange != 0 {
		parts = append(parts, fmt.Sprintf("queue %+d", d.QueueDepthChange))
	}
	if d.SmokeFrom != d.SmokeTo {
		parts = append(parts, fmt.Sprintf("smoke %s->%s", d.SmokeFrom, d.SmokeTo))
	}
	if n := len(d.CaptureChanges); n > 0 {
		lines := 0
		for _, c := range d.CaptureChanges {
			lines += c
		}
		parts = append(parts, fmt.Sprintf("captures %d targets/%d lines", n, lines))
	}
	return strings.Join(parts, "; ")
}

// ComputeDelta compares cur against prev. A nil prev yields a First delta.
func ComputeDelta(prev, cur *panel.PanelState) Delta {
	if prev == nil {
		return Delta{First: true}
	}
	d := Delta{
		QueueDepthChange: cur.QueueDepth() - prev.QueueDepth(),
		SmokeFrom:        prev.Smoke.Status,
		SmokeTo:          cur.Smoke.Status,
	}
	d.SessionsAdded, d.SessionsRemoved = setDiff(sessionIDs(prev), sessionIDs(cur))

	prevCaps := captures(prev)
	curCaps := captures(cur)
	d.CandidatesAdded, d.CandidatesRemoved = setDiff(keys(prevCaps), keys(curCaps))

	dmp := diffmatchpatch.New()
	for target, now := range curCaps {
		before, ok := prevCaps[target]
		if !ok || before == now {
			continue
		}
		if n := changedLines(dmp, before, now); n > 0 {
			if d.CaptureChanges == nil {
				d.CaptureChanges = make(map[string]int)
			}
			d.CaptureChanges[target] = n
		}
	}
	return d
}

// changedLines counts lines inserted into b relative to a.
func changedLines(dmp *diffmatchpatch.DiffMatchPatch, a, b string) int {
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)
	n := 0
	for _, df := range diffs {
		if df.Type == diffmatchpatch.DiffInsert {
			n += strings.Count(df.Text, "\n")
			if !strings.HasSuffix(df.Text, "\n") {
				n++
			}
		}
	}
	return n
}

func sessionIDs(s *panel.PanelState) []string {
	out := make([]string, 0, len(s.Sessions))
	for _, sess := range s.Sessions {
		out = append(out, sess.ID())
	}
	return out
}

func captures(s *panel.PanelState) map[string]string {
	out := make(map[string]string)
	for _, p := range s.Targets() {
		out[p.Target] = p.Capture
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// setDiff returns the sorted elements only in b (added) and only in a
// (removed).
func setDiff(a, b []string) (added, removed []string) {
	inA := make(map[string]bool, len(a))
	for _, x := range a {
		inA[x] = true
	}
	inB := make(map[string]bool, len(b))
	for _, x := range b {
		inB[x] = true
		if !inA[x] {
			added = append(added, x)
		}
	}
	for _, x := range a {
		if !inB[x] {
			removed = append(removed, x)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
