package breaker

// Degraded-mode thresholds.
const (
	DegradedOpenRoutes = 2
	DegradedOpenNodes  = 5

	MinBackoff = 1.0
	MaxBackoff = 4.0
)

// Pressure is a coarse load signal for the refresh loop.
type Pressure string

const (
	PressureNone     Pressure = "none"
	PressureElevated Pressure = "elevated"
	PressureHigh     Pressure = "high"
)

// Assessment is the degraded-mode snapshot.
type Assessment struct {
	OpenRoutes    int      `json:"open_routes"`
	OpenNodes     int      `json:"open_nodes"`
	Degraded      bool     `json:"degraded"`
	BackoffFactor float64  `json:"backoff_factor"`
	Pressure      Pressure `json:"pressure"`
}

// Assess computes degraded mode and the cadence backoff factor from open
// breaker counts. The factor is bounded to [MinBackoff, MaxBackoff].
func Assess(openRoutes, openNodes int) Assessment {
	a := Assessment{
		OpenRoutes: openRoutes,
		OpenNodes:  openNodes,
		Degraded:   openRoutes >= DegradedOpenRoutes || openNodes >= DegradedOpenNodes,
	}
	f := 1 + 0.5*float64(openRoutes) + 0.25*float64(openNodes)
	if a.Degraded && f < 2 {
		f = 2
	}
	if f < MinBackoff {
		f = MinBackoff
	}
	if f > MaxBackoff {
		f = MaxBackoff
	}
	a.BackoffFactor = f

	switch {
	case a.Degraded:
		a.Pressure = PressureHigh
	case openRoutes > 0 || openNodes > 0:
		a.Pressure = PressureElevated
	default:
		a.Pressure = PressureNone
	}
	return a
}
