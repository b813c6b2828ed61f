package timeline

import (
	"fmt"
	"io"
	"sort"
)

// GroupCadence is cadence for one route or track.
type GroupCadence struct {
	Name    string  `json:"name"`
	Count   int     `json:"n"`
	MeanSec float64 `json:"mean_sec"`
	P90Sec  float64 `json:"p90_sec"`
}

// Report is the full cadence analysis of a history.
type Report struct {
	Events   int            `json:"events"`
	Cadence  Cadence        `json:"cadence"`
	PerRoute []GroupCadence `json:"per_route"`
	PerTrack []GroupCadence `json:"per_track"`
	Edges    []Edge         `json:"edges"`
}

// BuildReport analyses events. Each gap is attributed to the route and
// track of the later event.
func BuildReport(events []Event) Report {
	sorted := Sorted(events)
	r := Report{
		Events:  len(sorted),
		Cadence: CadenceStats(sorted),
		Edges:   LayerEdges(sorted),
	}
	byRoute := make(map[string][]float64)
	byTrack := make(map[string][]float64)
	deltas := Deltas(sorted)
	for i, d := range deltas {
		cur := sorted[i+1]
		route := cur.Route
		if route == "" {
			route = NoTrack
		}
		byRoute[route] = append(byRoute[route], d)
		byTrack[cur.Track()] = append(byTrack[cur.Track()], d)
	}
	r.PerRoute = groupCadence(byRoute)
	r.PerTrack = groupCadence(byTrack)
	return r
}

func groupCadence(groups map[string][]float64) []GroupCadence {
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]GroupCadence, 0, len(names))
	for _, n := range names {
		c := cadenceOf(groups[n])
		out = append(out, GroupCadence{Name: n, Count: c.Count, MeanSec: c.MeanSec, P90Sec: c.P90Sec})
	}
	return out
}

// WriteText renders the report as plain text.
func (r Report) WriteText(w io.Writer) error {
	if r.Events < 2 {
		_, err := fmt.Fprintln(w, "insufficient data: need >=2 events")
		return err
	}
	ew := &errWriter{w: w}
	ew.printf("events=%d\n", r.Events)
	ew.printf("mean_interval=%.2fs\n", r.Cadence.MeanSec)
	ew.printf("p50_interval=%.2fs\n", r.Cadence.P50Sec)
	ew.printf("p90_interval=%.2fs\n", r.Cadence.P90Sec)
	ew.printf("burst_ratio(<%s)=%.2f%%\n", BurstThreshold, r.Cadence.BurstRatioPct)
	ew.printf("longest_idle=%.2fs\n", r.Cadence.LongestIdle)

	ew.printf("\nper-route:\n")
	for _, g := range r.PerRoute {
		ew.printf("- %s: n=%d mean=%.2fs p90=%.2fs\n", g.Name, g.Count, g.MeanSec, g.P90Sec)
	}
	ew.printf("\nper-track:\n")
	for _, g := range r.PerTrack {
		ew.printf("- %s: n=%d mean=%.2fs p90=%.2fs\n", g.Name, g.Count, g.MeanSec, g.P90Sec)
	}
	if len(r.Edges) > 0 {
		ew.printf("\nlayer edges:\n")
		for _, e := range r.Edges {
			ew.printf("- %s: n=%d latency=%.1fs quality=%.0f\n", e.ID(), e.Count, e.AvgLatencySec, e.AvgQuality)
		}
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
