package panel

import (
	"strings"
	"time"
)

// Route names used for telemetry, breakers and timeline events.
const (
	RouteState          = "state"
	RouteAutopilot      = "autopilot/run"
	RouteSmoke          = "smoke"
	RoutePaneSend       = "pane/send"
	RouteQueueAdd       = "queue/add"
	RouteQueueRun       = "queue/run"
	RouteNudge          = "nudge"
	RouteSpawn          = "spawn"
	RouteSnapshotIngest = "snapshot/ingest"
)

// Route describes one endpoint of the panel surface.
type Route struct {
	ID       string
	Name     string
	Method   string
	Path     string
	Critical bool
}

// Routes is the control-plane contract.
var Routes = []Route{
	{ID: "state", Name: RouteState, Method: "GET", Path: "/api/state", Critical: true},
	{ID: "autopilot", Name: RouteAutopilot, Method: "POST", Path: "/api/autopilot/run", Critical: true},
	{ID: "smoke", Name: RouteSmoke, Method: "POST", Path: "/api/smoke", Critical: true},
	{ID: "queue_add", Name: RouteQueueAdd, Method: "POST", Path: "/api/queue/add"},
	{ID: "queue_run", Name: RouteQueueRun, Method: "POST", Path: "/api/queue/run"},
	{ID: "pane_send", Name: RoutePaneSend, Method: "POST", Path: "/api/pane/send"},
	{ID: "nudge", Name: RouteNudge, Method: "POST", Path: "/api/nudge"},
	{ID: "spawn", Name: RouteSpawn, Method: "POST", Path: "/api/spawn"},
	{ID: "snapshot_ingest", Name: RouteSnapshotIngest, Method: "POST", Path: "/api/snapshot/ingest"},
}

// LookupRoute finds a route by name.
func LookupRoute(name string) (Route, bool) {
	for _, r := range Routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

// Capabilities records which routes the surface advertises.
type Capabilities struct {
	Routes    map[string]bool `json:"routes"`
	Hints     []string        `json:"hints"`
	ScannedAt time.Time       `json:"scanned_at"`
}

// SniffCapabilities marks a route present when body contains its path.
func SniffCapabilities(body string, now time.Time) Capabilities {
	c := Capabilities{Routes: make(map[string]bool, len(Routes)), ScannedAt: now}
	for _, r := range Routes {
		if strings.Contains(body, r.Path) {
			c.Routes[r.Name] = true
			c.Hints = append(c.Hints, r.Path)
		}
	}
	return c
}

// Has reports whether route is advertised.
func (c Capabilities) Has(route string) bool {
	return c.Routes[route]
}

// With returns a copy with route marked present.
func (c Capabilities) With(route string) Capabilities {
	out := Capabilities{Routes: make(map[string]bool, len(c.Routes)+1), Hints: c.Hints, ScannedAt: c.ScannedAt}
	for k, v := range c.Routes {
		out.Routes[k] = v
	}
	out.Routes[route] = true
	return out
}

// State, Autopilot and Smoke are shorthands for the critical routes.
func (c Capabilities) State() bool     { return c.Has(RouteState) }
func (c Capabilities) Autopilot() bool { return c.Has(RouteAutopilot) }
func (c Capabilities) Smoke() bool     { return c.Has(RouteSmoke) }

// MissingCriticalRoutes lists the paths of critical routes not advertised.
func MissingCriticalRoutes(c Capabilities) []string {
	var missing []string
	for _, r := range Routes {
		if r.Critical && !c.Has(r.Name) {
			missing = append(missing, r.Path)
		}
	}
	return missing
}
