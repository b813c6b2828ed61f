package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Unknown is substituted for absent scalar fields.
const Unknown = "unknown"

// PanelState is the snapshot served by GET /api/state. Every field is
// optional on the wire: absent arrays decode as empty and absent strings
// as Unknown.
type PanelState struct {
	TS                 int64         `json:"ts"`
	Sessions           []SessionInfo `json:"sessions"`
	Panes              []PaneInfo    `json:"panes"`
	TakeoverCandidates []PaneInfo    `json:"takeover_candidates"`
	Projects           []ProjectInfo `json:"projects"`
	Queue              []QueueItem   `json:"queue"`
	Smoke              SmokeSummary  `json:"smoke"`
	Vibe               VibeSummary   `json:"vibe"`
}

// UnmarshalJSON applies the defaults for absent fields.
func (s *PanelState) UnmarshalJSON(data []byte) error {
	type alias PanelState
	var v alias
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Sessions == nil {
		v.Sessions = []SessionInfo{}
	}
	if v.Panes == nil {
		v.Panes = []PaneInfo{}
	}
	if v.TakeoverCandidates == nil {
		v.TakeoverCandidates = []PaneInfo{}
	}
	if v.Projects == nil {
		v.Projects = []ProjectInfo{}
	}
	if v.Queue == nil {
		v.Queue = []QueueItem{}
	}
	v.Smoke.Status = orUnknown(v.Smoke.Status)
	v.Vibe.PipelineStatus = orUnknown(v.Vibe.PipelineStatus)
	v.Vibe.BuildLatency = orUnknown(v.Vibe.BuildLatency)
	v.Vibe.DeveloperState = orUnknown(v.Vibe.DeveloperState)
	*s = PanelState(v)
	return nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

// QueueDepth returns the number of queued prompts.
func (s *PanelState) QueueDepth() int {
	if s == nil {
		return 0
	}
	return len(s.Queue)
}

// Targets returns the takeover candidates, or all panes when the surface
// lists no candidates.
func (s *PanelState) Targets() []PaneInfo {
	if s == nil {
		return nil
	}
	if len(s.TakeoverCandidates) > 0 {
		return s.TakeoverCandidates
	}
	return s.Panes
}

// Pane looks up a pane by target among candidates and panes.
func (s *PanelState) Pane(target string) (PaneInfo, bool) {
	if s == nil {
		return PaneInfo{}, false
	}
	for _, p := range s.TakeoverCandidates {
		if p.Target == target {
			return p, true
		}
	}
	for _, p := range s.Panes {
		if p.Target == target {
			return p, true
		}
	}
	return PaneInfo{}, false
}

// SessionInfo is a remote session. Older servers send a bare string or
// only a raw descriptor.
type SessionInfo struct {
	RawID string `json:"id,omitempty"`
	Raw   string `json:"raw,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ID returns the session id, falling back to the raw descriptor.
func (s SessionInfo) ID() string {
	if s.RawID != "" {
		return s.RawID
	}
	if s.Name != "" {
		return s.Name
	}
	return s.Raw
}

// UnmarshalJSON accepts either a string or an object.
func (s *SessionInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = SessionInfo{Raw: raw}
		return nil
	}
	type alias SessionInfo
	var v alias
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	*s = SessionInfo(v)
	return nil
}

// PaneInfo is one terminal pane.
type PaneInfo struct {
	Target        string   `json:"target"`
	Command       string   `json:"command"`
	Liveness      string   `json:"liveness"`
	IdleSec       int      `json:"idle_sec"`
	ThroughputBps float64  `json:"throughput_bps"`
	AuthRituals   []string `json:"auth_rituals"`
	Capture       string   `json:"capture"`
}

// UnmarshalJSON applies the defaults for absent fields.
func (p *PaneInfo) UnmarshalJSON(data []byte) error {
	type alias PaneInfo
	var v alias
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.Command = orUnknown(v.Command)
	v.Liveness = orUnknown(v.Liveness)
	if v.AuthRituals == nil {
		v.AuthRituals = []string{}
	}
	*p = PaneInfo(v)
	return nil
}

// ProjectInfo is a project directory known to the surface.
type ProjectInfo struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// QueueItem is a pending queued prompt.
type QueueItem struct {
	ID        string `json:"id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Project   string `json:"project,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// SmokeSummary is the last smoke run.
type SmokeSummary struct {
	Status string `json:"status"`
	Passes *int   `json:"passes,omitempty"`
	Fails  *int   `json:"fails,omitempty"`
	Log    string `json:"log,omitempty"`
}

// Passed reports whether the smoke status reads as a pass.
func (s SmokeSummary) Passed() bool {
	switch strings.ToLower(s.Status) {
	case "pass", "passed", "ok", "green":
		return true
	}
	return false
}

// Failed reports whether the smoke status reads as a failure.
func (s SmokeSummary) Failed() bool {
	switch strings.ToLower(s.Status) {
	case "fail", "failed", "error", "red":
		return true
	}
	return false
}

// VibeSummary is free-form mood text from the surface.
type VibeSummary struct {
	PipelineStatus string `json:"pipeline_status"`
	BuildLatency   string `json:"build_latency"`
	DeveloperState string `json:"developer_state"`
}

// AutopilotRequest is the body of POST /api/autopilot/run. Target is an
// extension honoured by newer servers to pin the run to one pane.
type AutopilotRequest struct {
	Prompt      string `json:"prompt"`
	Project     string `json:"project,omitempty"`
	MaxTargets  int    `json:"max_targets"`
	AutoApprove bool   `json:"auto_approve"`
	Target      string `json:"target,omitempty"`
}

// SmokeRequest is the body of POST /api/smoke.
type SmokeRequest struct {
	Project string `json:"project"`
}

// PaneSendRequest is the body of POST /api/pane/send.
type PaneSendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
	Enter  bool   `json:"enter"`
}

// QueueAddRequest is the body of POST /api/queue/add.
type QueueAddRequest struct {
	Prompt    string `json:"prompt"`
	Project   string `json:"project"`
	SessionID string `json:"session_id"`
}

// QueueRunRequest is the body of POST /api/queue/run.
type QueueRunRequest struct {
	Project   string `json:"project"`
	SessionID string `json:"session_id"`
}

// NudgeRequest is the body of POST /api/nudge.
type NudgeRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SpawnRequest is the body of POST /api/spawn.
type SpawnRequest struct {
	SessionName string `json:"session_name"`
	Project     string `json:"project"`
	Command     string `json:"command"`
}

// SnapshotIngestRequest is the body of POST /api/snapshot/ingest.
type SnapshotIngestRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Result is the outcome of a mutating call.
type Result struct {
	Route      string `json:"route"`
	StatusCode int    `json:"status"`
	Body       string `json:"body,omitempty"`
	Summary    string `json:"summary"`
}
