// Package timeline records classified prompt/service events and derives
// cadence and layer-transition analytics from them.
package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an event.
type Kind string

const (
	KindPrompt   Kind = "prompt"
	KindDuplex   Kind = "duplex"
	KindOntology Kind = "ontology"
	KindGit      Kind = "git"
	KindFile     Kind = "file"
	KindService  Kind = "service"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindPrompt, KindDuplex, KindOntology, KindGit, KindFile, KindService}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// NoTrack is the track name for events without a target.
const NoTrack = "-"

// Event is one timeline entry.
type Event struct {
	ID      uuid.UUID
	TS      time.Time
	Route   string
	Target  string
	Prompt  string
	Kind    Kind
	Summary string
}

// NewEvent builds an event with a fresh ID. An empty kind is inferred
// from the prompt text.
func NewEvent(ts time.Time, route, target, prompt string, kind Kind) Event {
	if kind == "" {
		kind = Classify(prompt)
	}
	return Event{
		ID:     uuid.New(),
		TS:     ts,
		Route:  route,
		Target: target,
		Prompt: prompt,
		Kind:   kind,
	}
}

// Track returns the target, or NoTrack when unset.
func (e Event) Track() string {
	if e.Target == "" {
		return NoTrack
	}
	return e.Target
}

type eventJSON struct {
	ID      uuid.UUID `json:"id"`
	TS      float64   `json:"ts"`
	Route   string    `json:"route"`
	Target  *string   `json:"target,omitempty"`
	Prompt  string    `json:"prompt"`
	Kind    Kind      `json:"kind,omitempty"`
	Summary *string   `json:"summary,omitempty"`
}

// MarshalJSON writes ts as fractional unix seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:     e.ID,
		TS:     float64(e.TS.UnixNano()) / 1e9,
		Route:  e.Route,
		Prompt: e.Prompt,
		Kind:   e.Kind,
	}
	if e.Target != "" {
		out.Target = &e.Target
	}
	if e.Summary != "" {
		out.Summary = &e.Summary
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts records written before kind existed; those
// default to KindPrompt.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Kind == "" {
		in.Kind = KindPrompt
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", in.Kind)
	}
	sec, frac := math.Modf(in.TS)
	*e = Event{
		ID:     in.ID,
		TS:     time.Unix(int64(sec), int64(math.Round(frac*1e9))),
		Route:  in.Route,
		Prompt: in.Prompt,
		Kind:   in.Kind,
	}
	if in.Target != nil {
		e.Target = *in.Target
	}
	if in.Summary != nil {
		e.Summary = *in.Summary
	}
	return nil
}
