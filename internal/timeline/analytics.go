package timeline

import (
	"math"
	"sort"
	"time"
)

// Sorted returns a copy of events ordered by timestamp. Equal timestamps
// keep their input order.
func Sorted(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Track is the events of one target.
type Track struct {
	Name   string  `json:"name"`
	Events []Event `json:"events"`
}

// Tracks groups events by target, sorted by track name.
func Tracks(events []Event) []Track {
	grouped := make(map[string][]Event)
	for _, e := range Sorted(events) {
		grouped[e.Track()] = append(grouped[e.Track()], e)
	}
	names := make([]string, 0, len(grouped))
	for n := range grouped {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Track, 0, len(names))
	for _, n := range names {
		out = append(out, Track{Name: n, Events: grouped[n]})
	}
	return out
}

// AllTracks selects every track in ForTrack.
const AllTracks = "ALL"

// ForTrack returns the sorted events of one track, or all of them for
// AllTracks.
func ForTrack(events []Event, track string) []Event {
	sorted := Sorted(events)
	if track == AllTracks {
		return sorted
	}
	out := sorted[:0:0]
	for _, e := range sorted {
		if e.Track() == track {
			out = append(out, e)
		}
	}
	return out
}

// Range returns events[lo..hi] inclusive. Bounds may be given in either
// order and are clamped to the slice.
func Range(events []Event, start, end int) []Event {
	if len(events) == 0 {
		return nil
	}
	lo, hi := start, end
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = clampInt(lo, 0, len(events)-1)
	hi = clampInt(hi, 0, len(events)-1)
	out := make([]Event, hi-lo+1)
	copy(out, events[lo:hi+1])
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Deltas returns the gaps in seconds between consecutive events after
// sorting by timestamp.
func Deltas(events []Event) []float64 {
	sorted := Sorted(events)
	if len(sorted) < 2 {
		return nil
	}
	out := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		out = append(out, math.Max(0, sorted[i].TS.Sub(sorted[i-1].TS).Seconds()))
	}
	return out
}

// LayerCounts counts events per kind.
func LayerCounts(events []Event) map[Kind]int {
	out := make(map[Kind]int)
	for _, e := range events {
		out[e.Kind]++
	}
	return out
}

// BurstThreshold is the gap below which two events count as a burst.
const BurstThreshold = 60 * time.Second

// Cadence summarises inter-event gaps, in seconds.
type Cadence struct {
	Count         int     `json:"count"`
	MeanSec       float64 `json:"mean_sec"`
	P50Sec        float64 `json:"p50_sec"`
	P90Sec        float64 `json:"p90_sec"`
	BurstRatioPct float64 `json:"burst_ratio_pct"`
	LongestIdle   float64 `json:"longest_idle_sec"`
}

// CadenceStats computes Cadence over the events' gaps.
func CadenceStats(events []Event) Cadence {
	return cadenceOf(Deltas(events))
}

func cadenceOf(deltas []float64) Cadence {
	if len(deltas) == 0 {
		return Cadence{}
	}
	xs := append([]float64(nil), deltas...)
	sort.Float64s(xs)
	var sum float64
	burst := 0
	for _, d := range xs {
		sum += d
		if d < BurstThreshold.Seconds() {
			burst++
		}
	}
	return Cadence{
		Count:         len(xs),
		MeanSec:       sum / float64(len(xs)),
		P50Sec:        Percentile(xs, 0.50),
		P90Sec:        Percentile(xs, 0.90),
		BurstRatioPct: float64(burst) / float64(len(xs)) * 100,
		LongestIdle:   xs[len(xs)-1],
	}
}

// Percentile returns the nearest-rank value at q from ascending xs, using
// index round((n-1)*q).
func Percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	q = math.Min(1, math.Max(0, q))
	return xs[int(math.Round(float64(len(xs)-1)*q))]
}

var expectedTransitions = map[[2]Kind]bool{
	{KindPrompt, KindService}:   true,
	{KindDuplex, KindService}:   true,
	{KindService, KindOntology}: true,
	{KindService, KindGit}:      true,
	{KindService, KindFile}:     true,
	{KindOntology, KindService}: true,
	{KindOntology, KindGit}:     true,
	{KindOntology, KindFile}:    true,
	{KindGit, KindService}:      true,
	{KindFile, KindService}:     true,
}

// EdgeQuality scores one transition: 60 base, +25 when expected, +10 when
// faster than 30s, -15 when slower than 300s, clamped to [0, 100].
func EdgeQuality(from, to Kind, latencySec float64) float64 {
	score := 60.0
	if expectedTransitions[[2]Kind{from, to}] {
		score += 25
	}
	if latencySec < 30 {
		score += 10
	}
	if latencySec > 300 {
		score -= 15
	}
	return math.Min(100, math.Max(0, score))
}

// Edge aggregates every observed from->to transition.
type Edge struct {
	From          Kind    `json:"from"`
	To            Kind    `json:"to"`
	Count         int     `json:"count"`
	AvgLatencySec float64 `json:"avg_latency_sec"`
	AvgQuality    float64 `json:"avg_quality"`
}

// ID returns "from->to".
func (e Edge) ID() string { return string(e.From) + "->" + string(e.To) }

// LayerEdges folds consecutive event pairs into edges, most frequent first.
func LayerEdges(events []Event) []Edge {
	sorted := Sorted(events)
	if len(sorted) < 2 {
		return nil
	}
	type acc struct {
		count   int
		latency float64
		quality float64
	}
	sums := make(map[[2]Kind]*acc)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		latency := math.Max(0, cur.TS.Sub(prev.TS).Seconds())
		k := [2]Kind{prev.Kind, cur.Kind}
		a := sums[k]
		if a == nil {
			a = &acc{}
			sums[k] = a
		}
		a.count++
		a.latency += latency
		a.quality += EdgeQuality(prev.Kind, cur.Kind, latency)
	}
	out := make([]Edge, 0, len(sums))
	for k, a := range sums {
		out = append(out, Edge{
			From:          k[0],
			To:            k[1],
			Count:         a.count,
			AvgLatencySec: a.latency / float64(a.count),
			AvgQuality:    a.quality / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
