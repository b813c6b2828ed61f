// Package events carries control-plane events: an in-process bus with a
// bounded history, and a JSONL journal with retention-based rotation.
package events

import (
	"time"
)

// Type names an event.
type Type string

const (
	// Dispatch outcomes
	TypeDispatch    Type = "dispatch"
	TypePolicyBlock Type = "policy_block"

	// Health and resilience
	TypeBreakerTrip Type = "breaker_trip"
	TypeDegraded    Type = "degraded"
	TypeLaneChange  Type = "lane_change"
	TypePanic       Type = "panic"

	// Surface
	TypeRefresh Type = "refresh"
	TypeSurface Type = "surface"
	TypeCycle   Type = "cycle"

	// Timeline playback
	TypeTimeline Type = "timeline"

	TypeError Type = "error"
)

// Event is one journal entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      Type           `json:"type"`
	Route     string         `json:"route,omitempty"`
	Target    string         `json:"target,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event stamped with the current UTC time.
func New(t Type, route, target, message string) Event {
	return Event{Timestamp: time.Now().UTC(), Type: t, Route: route, Target: target, Message: message}
}

// With returns a copy of e with key set in Data.
func (e Event) With(key string, value any) Event {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// DispatchData is attached to dispatch events.
type DispatchData struct {
	OK       bool   `json:"ok"`
	Status   int    `json:"status,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Fluency  int    `json:"fluency"`
	Summary  string `json:"summary,omitempty"`
}

// ToMap converts typed event data to a map for Event.Data.
func ToMap(v any) map[string]any {
	switch d := v.(type) {
	case DispatchData:
		m := map[string]any{"ok": d.OK, "fluency": d.Fluency}
		if d.Status != 0 {
			m["status"] = d.Status
		}
		if d.Strategy != "" {
			m["strategy"] = d.Strategy
		}
		if d.Summary != "" {
			m["summary"] = d.Summary
		}
		return m
	case map[string]any:
		return d
	default:
		return nil
	}
}
