package panel

import (
	"context"
	"encoding/json"
	"net/http"
)

// RouteCheck is the validation result for one route.
type RouteCheck struct {
	ID       string `json:"id"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
	Status   int    `json:"status,omitempty"`
	OK       bool   `json:"ok"`
	Hinted   bool   `json:"hinted"`
	Skipped  bool   `json:"skipped,omitempty"`
	Preview  string `json:"preview"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	Base            string       `json:"base"`
	RouteHints      []string     `json:"route_hints"`
	Checks          []RouteCheck `json:"report"`
	MissingCritical []string     `json:"missing_critical,omitempty"`
}

// Pass reports whether every critical route is available.
func (r ValidationReport) Pass() bool {
	return len(r.MissingCritical) == 0
}

type samples struct {
	project string
	session string
	target  string
}

func (s samples) payload(id string) any {
	switch id {
	case "autopilot":
		return AutopilotRequest{Prompt: "diagnose only", Project: s.project, MaxTargets: 1}
	case "smoke":
		return SmokeRequest{Project: s.project}
	case "queue_add":
		return QueueAddRequest{Prompt: "noop", Project: s.project, SessionID: s.session}
	case "queue_run":
		return QueueRunRequest{Project: s.project, SessionID: s.session}
	case "pane_send":
		return PaneSendRequest{Target: s.target, Text: "noop", Enter: true}
	case "nudge":
		return NudgeRequest{SessionID: s.session, Text: "noop"}
	case "spawn":
		return SpawnRequest{SessionName: "noop-validator", Project: s.project, Command: "echo noop"}
	case "snapshot_ingest":
		return SnapshotIngestRequest{Name: "validator-noop", Text: "noop"}
	}
	return nil
}

// Validate checks the control-plane contract. GET routes are always
// requested; POST routes only when probePost is set, otherwise they pass
// on a route hint from GET /. POST probes use no-op payloads built from
// the first project, session and target in the state snapshot.
func (c *Client) Validate(ctx context.Context, probePost bool) (ValidationReport, error) {
	rep := ValidationReport{Base: c.BaseURL()}

	hinted := make(map[string]bool)
	if caps, err := c.Capabilities(ctx); err == nil {
		rep.RouteHints = caps.Hints
		for _, h := range caps.Hints {
			hinted[h] = true
		}
	}

	var smp samples
	if st, err := c.State(ctx); err == nil {
		if len(st.Projects) > 0 {
			smp.project = st.Projects[0].Path
		}
		if len(st.Sessions) > 0 {
			smp.session = st.Sessions[0].ID()
		}
		if targets := st.Targets(); len(targets) > 0 {
			smp.target = targets[0].Target
		}
	}

	for _, r := range Routes {
		chk := RouteCheck{ID: r.ID, Method: r.Method, Path: r.Path, Critical: r.Critical, Hinted: hinted[r.Path]}
		if r.Method == http.MethodGet || probePost {
			var payload any
			if r.Method == http.MethodPost {
				payload = smp.payload(r.ID)
			}
			status, body, err := c.exchange(ctx, r.Name, r.Method, r.Path, payload)
			chk.Status = status
			if err != nil {
				chk.Preview = err.Error()
			} else {
				chk.OK = status >= 200 && status < 300
				chk.Preview = Preview(body)
			}
		} else {
			chk.Skipped = true
			chk.OK = chk.Hinted
			chk.Preview = "skipped (use --probe-post)"
		}
		if chk.Critical && !chk.OK {
			rep.MissingCritical = append(rep.MissingCritical, r.Path)
		}
		rep.Checks = append(rep.Checks, chk)
	}
	return rep, ctx.Err()
}

// MarshalIndent renders the report as indented JSON.
func (r ValidationReport) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
