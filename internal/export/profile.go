package export

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/uprootiny/manicctl/internal/breaker"
	"github.com/uprootiny/manicctl/internal/lanes"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/scope"
	"github.com/uprootiny/manicctl/internal/telemetry"
	"github.com/uprootiny/manicctl/internal/timeline"
)

// Profile is a point-in-time session snapshot.
type Profile struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Status      orchestrator.Status   `json:"status"`
	Tuning      orchestrator.Tuning   `json:"tuning"`
	Scope       scope.State           `json:"scope"`
	Lanes       []lanes.Entry         `json:"lanes"`
	Breakers    []breaker.Status      `json:"breakers"`
	Telemetry   []TelemetryRow        `json:"telemetry"`
	Cadence     timeline.Cadence      `json:"cadence"`
	Layers      map[timeline.Kind]int `json:"layers"`
	Edges       []timeline.Edge       `json:"edges"`
	Tracks      []timeline.Track      `json:"tracks"`
	Actions     []string              `json:"recent_actions"`
	Notes       []string              `json:"recent_notes"`
}

// TelemetryRow is one fluency counter.
type TelemetryRow struct {
	Route   string `json:"route"`
	Target  string `json:"target,omitempty"`
	Success int    `json:"success"`
	Failure int    `json:"failure"`
	Fluency int    `json:"fluency"`
}

const recentLines = 20

// BuildProfile snapshots o.
func BuildProfile(o *orchestrator.Orchestrator, now time.Time) Profile {
	evs := o.Timeline.Events()
	p := Profile{
		GeneratedAt: now.UTC(),
		Status:      o.Status(),
		Tuning:      o.Tuning(),
		Scope:       o.Scope.State(),
		Lanes:       o.Lanes.Entries(),
		Breakers:    o.Breakers.Statuses(),
		Cadence:     timeline.CadenceStats(timeline.Sorted(evs)),
		Layers:      timeline.LayerCounts(evs),
		Edges:       timeline.LayerEdges(evs),
		Tracks:      timeline.Tracks(evs),
		Actions:     head(o.ActionLog(), recentLines),
		Notes:       head(o.Notes(), recentLines),
	}
	for _, e := range o.Telemetry.Entries() {
		p.Telemetry = append(p.Telemetry, telemetryRow(e))
	}
	return p
}

func telemetryRow(e telemetry.Entry) TelemetryRow {
	return TelemetryRow{
		Route:   e.Route,
		Target:  e.Target,
		Success: e.Success,
		Failure: e.Failure,
		Fluency: e.Fluency(),
	}
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}

// Markdown renders the profile as a Markdown document.
func (p Profile) Markdown() string {
	var b strings.Builder
	s := p.Status
	fmt.Fprintf(&b, "# Session profile\n\n")
	fmt.Fprintf(&b, "Generated %s against `%s`.\n\n", p.GeneratedAt.Format(time.RFC3339), s.BaseURL)

	fmt.Fprintf(&b, "## Health\n\n")
	fmt.Fprintf(&b, "- score: **%d** (%s)\n", s.Health.Score, s.Health.Label)
	for _, n := range s.Health.Notes {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	fmt.Fprintf(&b, "- degraded: %v, backoff %.2fx\n", s.Assessment.Degraded, s.Assessment.BackoffFactor)
	fmt.Fprintf(&b, "- panic: %v\n", s.Panic)
	fmt.Fprintf(&b, "- targets %d, queue %d, smoke %s\n\n", s.Targets, s.QueueDepth, s.Smoke)

	fmt.Fprintf(&b, "## Scope\n\n")
	c, l := p.Scope.Contract, p.Scope.Ledger
	if c.Intent != "" {
		fmt.Fprintf(&b, "> %s\n\n", c.Intent)
	}
	fmt.Fprintf(&b, "- latched: %v\n", l.LatchChecksum != "")
	fmt.Fprintf(&b, "- actions: %d / %s\n", l.Actions, limit(c.AttentionBudgetActions))
	fmt.Fprintf(&b, "- cycles: %d / %s\n\n", l.CompletedCycles, limit(c.MaxCycles))

	fmt.Fprintf(&b, "## Tuning\n\n")
	t := p.Tuning
	fmt.Fprintf(&b, "| cooldown | delay | fanout | refresh |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %d | %s |\n\n", t.Cooldown, t.ActionDelay, t.Fanout, t.RefreshInterval)

	if len(p.Lanes) > 0 {
		fmt.Fprintf(&b, "## Lanes\n\n| target | lane | enabled |\n|---|---|---|\n")
		for _, e := range p.Lanes {
			fmt.Fprintf(&b, "| %s | %s | %v |\n", e.Target, e.Lane, e.Throttle.Enabled)
		}
		b.WriteString("\n")
	}

	if len(p.Telemetry) > 0 {
		fmt.Fprintf(&b, "## Fluency\n\n| route | target | ok | fail | fluency |\n|---|---|---|---|---|\n")
		for _, r := range p.Telemetry {
			target := r.Target
			if target == "" {
				target = "*"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d%% |\n", r.Route, target, r.Success, r.Failure, r.Fluency)
		}
		b.WriteString("\n")
	}

	open := 0
	for _, st := range p.Breakers {
		if st.Open {
			open++
		}
	}
	if open > 0 {
		fmt.Fprintf(&b, "## Open breakers\n\n")
		for _, st := range p.Breakers {
			if st.Open {
				fmt.Fprintf(&b, "- %s %s: %s\n", st.Route, st.Target, st.LastTripReason)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Cadence\n\n")
	cd := p.Cadence
	fmt.Fprintf(&b, "- gaps: %d, mean %.1fs, p50 %.1fs, p90 %.1fs\n", cd.Count, cd.MeanSec, cd.P50Sec, cd.P90Sec)
	fmt.Fprintf(&b, "- burst ratio %.1f%%, longest idle %.1fs\n", cd.BurstRatioPct, cd.LongestIdle)
	kinds := make([]string, 0, len(p.Layers))
	for k, n := range p.Layers {
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)
	if len(kinds) > 0 {
		fmt.Fprintf(&b, "- layers: %s\n", strings.Join(kinds, ", "))
	}
	b.WriteString("\n")

	if len(p.Actions) > 0 {
		fmt.Fprintf(&b, "## Recent actions\n\n")
		for _, a := range p.Actions {
			fmt.Fprintf(&b, "- `%s`\n", a)
		}
	}
	return b.String()
}

func limit(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

// Profile writes p as JSON and Markdown side by side and returns both
// paths.
func (e *Exporter) Profile(p Profile) (jsonPath, mdPath string, err error) {
	jsonPath, err = e.path("session-profile", ".json")
	if err != nil {
		return "", "", err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(jsonPath, append(data, '\n'), 0600); err != nil {
		return "", "", err
	}
	mdPath = strings.TrimSuffix(jsonPath, ".json") + ".md"
	if err := os.WriteFile(mdPath, []byte(p.Markdown()), 0600); err != nil {
		return "", "", err
	}
	return jsonPath, mdPath, nil
}

// Render formats Markdown for the terminal at width columns.
func Render(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
