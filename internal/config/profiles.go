package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/uprootiny/manicctl/internal/timeline"
	"github.com/uprootiny/manicctl/internal/util"
)

// Profile is a named throttle preset with its default nudge script.
type Profile struct {
	Name            string
	RefreshInterval time.Duration
	Cooldown        time.Duration
	ActionDelay     time.Duration
	Fanout          int
	Script          []string
}

const guardedFix = "run smoke checks, fix first blocker, rerun smoke, report concise status"

// Profiles are the built-in cadence presets.
var Profiles = map[string]Profile{
	"stabilize": {
		Name:            "stabilize",
		RefreshInterval: 8 * time.Second,
		Cooldown:        14 * time.Second,
		ActionDelay:     1500 * time.Millisecond,
		Fanout:          1,
		Script: []string{
			"classify blockers only, no writes, suggest minimal next action",
			guardedFix,
			"summarize delta and stop unless blocker count decreased",
		},
	},
	"throughput": {
		Name:            "throughput",
		RefreshInterval: 4 * time.Second,
		Cooldown:        6 * time.Second,
		ActionDelay:     700 * time.Millisecond,
		Fanout:          3,
		Script: []string{
			guardedFix,
			"move to next ready target and repeat guarded cycle",
			"emit compact status board with done/blocked items",
		},
	},
	"deepwork": {
		Name:            "deepwork",
		RefreshInterval: 14 * time.Second,
		Cooldown:        24 * time.Second,
		ActionDelay:     2200 * time.Millisecond,
		Fanout:          1,
		Script: []string{
			"isolate one primary session and freeze all noisy loops",
			guardedFix,
			"produce one commit-ready patch plan with acceptance criteria",
		},
	},
}

// ProfileNames returns the profile names sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for n := range Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupProfile finds a profile by name.
func LookupProfile(name string) (Profile, error) {
	p, ok := Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (want one of %v)", name, ProfileNames())
	}
	return p, nil
}

// ApplyProfile overwrites the throttle cadence with the named profile.
func (c *Config) ApplyProfile(name string) error {
	p, err := LookupProfile(name)
	if err != nil {
		return err
	}
	c.Throttle.Profile = p.Name
	c.Throttle.RefreshInterval = util.D(p.RefreshInterval)
	c.Throttle.Cooldown = util.D(p.Cooldown)
	c.Throttle.ActionDelay = util.D(p.ActionDelay)
	c.Throttle.Fanout = p.Fanout
	return nil
}

// NudgeScript returns the profile's default script as a timeline script
// paced at the profile cooldown.
func (p Profile) NudgeScript() timeline.Script {
	return timeline.Script{
		Name:  p.Name,
		Pause: util.D(p.Cooldown),
		Steps: append([]string(nil), p.Script...),
	}
}
