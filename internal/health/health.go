// Package health scores how well the operator's interaction with the
// panel surface is going.
package health

import (
	"fmt"
)

// Label buckets a score.
type Label string

const (
	LabelSteady   Label = "steady"   // score >= 80
	LabelStrained Label = "strained" // score >= 60
	LabelCritical Label = "critical"
)

// DriftQueueDepth is the queue depth above which health is penalised.
const DriftQueueDepth = 6

// Inputs is everything the score is derived from.
type Inputs struct {
	Panic                 bool
	Degraded              bool
	ErrorCount            int
	SmokeFailed           bool
	RequireLatch          bool
	IntentLatched         bool
	BudgetExhausted       bool
	QueueDepth            int
	MissingCriticalRoutes []string
	OpenRouteBreakers     int
	OpenNodeBreakers      int
}

// Interaction is the derived health snapshot.
type Interaction struct {
	Score int      `json:"score"`
	Label Label    `json:"label"`
	Notes []string `json:"notes"`
}

// Compute scores in. Each penalty adds a note explaining it.
func Compute(in Inputs) Interaction {
	score := 100
	var notes []string
	penalize := func(n int, note string) {
		score -= n
		notes = append(notes, note)
	}

	if in.Panic {
		penalize(25, "panic mode engaged")
	}
	if in.Degraded {
		penalize(20, fmt.Sprintf("degraded: %d route / %d node breakers open", in.OpenRouteBreakers, in.OpenNodeBreakers))
	}
	if in.ErrorCount > 0 {
		penalize(min(30, 10*in.ErrorCount), fmt.Sprintf("%d consecutive refresh errors", in.ErrorCount))
	}
	if in.SmokeFailed {
		penalize(15, "smoke failing")
	}
	if in.RequireLatch && !in.IntentLatched {
		penalize(10, "intent not latched")
	}
	if in.BudgetExhausted {
		penalize(10, "attention budget exhausted")
	}
	if in.QueueDepth > DriftQueueDepth {
		penalize(10, fmt.Sprintf("queue depth %d > %d", in.QueueDepth, DriftQueueDepth))
	}
	if n := len(in.MissingCriticalRoutes); n > 0 {
		penalize(min(15, 5*n), fmt.Sprintf("missing critical routes: %v", in.MissingCriticalRoutes))
	}

	score = max(0, min(100, score))
	if len(notes) == 0 {
		notes = []string{"all clear"}
	}
	return Interaction{Score: score, Label: labelFor(score), Notes: notes}
}

func labelFor(score int) Label {
	switch {
	case score >= 80:
		return LabelSteady
	case score >= 60:
		return LabelStrained
	default:
		return LabelCritical
	}
}
