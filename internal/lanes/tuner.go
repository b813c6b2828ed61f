package lanes

// TunerConfig holds the auto-tune thresholds, all in fluency percent.
type TunerConfig struct {
	Enabled          bool
	PrimaryThreshold int
	SecondaryFloor   int
	QuarantineFloor  int
	QuarantineMargin int
	MinObservations  int
}

// DefaultTunerConfig returns the stock thresholds.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		Enabled:          true,
		PrimaryThreshold: 70,
		SecondaryFloor:   35,
		QuarantineFloor:  20,
		QuarantineMargin: 35,
		MinObservations:  3,
	}
}

// DemoteBelow is the fluency under which a target is quarantined.
func (c TunerConfig) DemoteBelow() int {
	return max(c.QuarantineFloor, c.PrimaryThreshold-c.QuarantineMargin)
}

// Decide returns the lane a target should move to, and whether it moves.
// Secondary targets below the primary threshold are left alone.
func (c TunerConfig) Decide(current Priority, fluency, observations int) (Priority, bool) {
	if !c.Enabled || observations < c.MinObservations {
		return current, false
	}
	switch {
	case fluency < c.DemoteBelow() && current != Quarantine:
		return Quarantine, true
	case fluency >= c.PrimaryThreshold && current != Primary:
		return Primary, true
	case fluency >= c.SecondaryFloor && fluency < c.PrimaryThreshold && current == Quarantine:
		return Secondary, true
	}
	return current, false
}

// Transition records one automatic lane change.
type Transition struct {
	Target  string   `json:"target"`
	From    Priority `json:"from"`
	To      Priority `json:"to"`
	Fluency int      `json:"fluency"`
}

// Tune applies Decide to target and returns the transition, if any.
func (t *Table) Tune(cfg TunerConfig, target string, fluency, observations int) (Transition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.laneLocked(target)
	next, ok := cfg.Decide(cur, fluency, observations)
	if !ok {
		return Transition{}, false
	}
	t.setLaneLocked(target, next)
	return Transition{Target: target, From: cur, To: next, Fluency: fluency}, true
}
