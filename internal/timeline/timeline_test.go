package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/uprootiny/manicctl/internal/kvstore"
)

var epoch = time.Unix(1_700_000_000, 0)

func ev(sec int, route, target string, kind Kind) Event {
	return NewEvent(epoch.Add(time.Duration(sec)*time.Second), route, target, "p", kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Kind
	}{
		{"Refine the AtomSpace grounding pass", KindOntology},
		{"rotate the OpenRouter api key", KindDuplex},
		{"commit and push the branch", KindGit},
		{"apply this patch to the file", KindFile},
		{"just keep going", KindPrompt},
		// ontology cues outrank git cues
		{"commit the ontology changes", KindOntology},
		{"switch model then commit", KindDuplex},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractArtifacts(t *testing.T) {
	text := strings.Join([]string{
		"a1b2c3d fix breaker window",
		"edited internal/panel/client.go and README.md.",
		"see https://example.com/x.go",
		"touched internal/panel/client.go again",
		"binary.exe ignored",
	}, "\n")
	got := ExtractArtifacts(text)
	want := []Artifact{
		{Kind: KindGit, Text: "a1b2c3d fix breaker window"},
		{Kind: KindFile, Text: "internal/panel/client.go"},
		{Kind: KindFile, Text: "README.md"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractArtifacts = %+v\nwant %+v", got, want)
	}
}

func TestEventJSON(t *testing.T) {
	t.Run("missing kind defaults to prompt", func(t *testing.T) {
		var e Event
		data := `{"id":"00000000-0000-0000-0000-000000000001","ts":1,"route":"x","target":"t","prompt":"p"}`
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			t.Fatal(err)
		}
		if e.Kind != KindPrompt || e.Route != "x" || e.Target != "t" {
			t.Errorf("decoded %+v", e)
		}
		if !e.TS.Equal(time.Unix(1, 0)) {
			t.Errorf("TS = %v", e.TS)
		}
	})

	t.Run("explicit kind", func(t *testing.T) {
		var e Event
		data := `{"id":"00000000-0000-0000-0000-000000000001","ts":1.5,"route":"x","prompt":"p","kind":"ontology"}`
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			t.Fatal(err)
		}
		if e.Kind != KindOntology {
			t.Errorf("Kind = %s", e.Kind)
		}
		if e.Track() != NoTrack {
			t.Errorf("Track = %q, want %q", e.Track(), NoTrack)
		}
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		var e Event
		if err := json.Unmarshal([]byte(`{"ts":1,"route":"x","prompt":"p","kind":"bogus"}`), &e); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		in := ev(3, "smoke", "", KindService)
		in.Summary = "ok"
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), `"target"`) {
			t.Errorf("empty target should be omitted: %s", data)
		}
		var out Event
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		if out.ID != in.ID || !out.TS.Equal(in.TS) || out.Summary != "ok" || out.Kind != KindService {
			t.Errorf("round trip mismatch: %+v vs %+v", out, in)
		}
	})
}

func TestTracksAndRange(t *testing.T) {
	events := []Event{ev(3, "a", "t1", KindPrompt), ev(1, "a", "t1", KindPrompt), ev(2, "a", "t2", KindPrompt), ev(4, "a", "", KindService)}

	tracks := Tracks(events)
	names := make([]string, len(tracks))
	for i, tr := range tracks {
		names[i] = tr.Name
	}
	if !reflect.DeepEqual(names, []string{"-", "t1", "t2"}) {
		t.Errorf("track names = %v", names)
	}
	if len(tracks[1].Events) != 2 || !tracks[1].Events[0].TS.Before(tracks[1].Events[1].TS) {
		t.Errorf("t1 track should hold 2 sorted events: %+v", tracks[1].Events)
	}
	if got := len(ForTrack(events, AllTracks)); got != 4 {
		t.Errorf("ForTrack(ALL) = %d events", got)
	}
	if got := len(ForTrack(events, "t2")); got != 1 {
		t.Errorf("ForTrack(t2) = %d events", got)
	}

	sorted := Sorted(events)
	xs := Range(sorted, 2, 1)
	if len(xs) != 2 || xs[0].ID != sorted[1].ID {
		t.Errorf("Range(2,1) = %+v", xs)
	}
	if got := len(Range(sorted, -5, 99)); got != 4 {
		t.Errorf("clamped Range = %d events, want 4", got)
	}
	if Range(nil, 0, 1) != nil {
		t.Error("Range on empty should be nil")
	}
}

func TestDeltasAndCounts(t *testing.T) {
	events := []Event{ev(1, "a", "t", KindPrompt), ev(4, "a", "t", KindService), ev(10, "a", "t", KindService)}
	if got := Deltas(events); !reflect.DeepEqual(got, []float64{3, 6}) {
		t.Errorf("Deltas = %v", got)
	}
	counts := LayerCounts(events)
	if counts[KindService] != 2 || counts[KindPrompt] != 1 {
		t.Errorf("LayerCounts = %v", counts)
	}
}

func TestCadenceStats(t *testing.T) {
	events := []Event{
		ev(0, "a", "x", KindPrompt),
		ev(10, "b", "x", KindService),
		ev(40, "c", "x", KindService),
		ev(100, "d", "x", KindGit),
	}
	c := CadenceStats(events)
	if math.Abs(c.MeanSec-33.333) > 0.01 {
		t.Errorf("MeanSec = %v, want ~33.33", c.MeanSec)
	}
	if c.P50Sec != 30 {
		t.Errorf("P50Sec = %v, want 30", c.P50Sec)
	}
	if c.P90Sec != 60 {
		t.Errorf("P90Sec = %v, want 60", c.P90Sec)
	}
	if math.Abs(c.BurstRatioPct-66.667) > 0.01 {
		t.Errorf("BurstRatioPct = %v, want ~66.67", c.BurstRatioPct)
	}
	if c.LongestIdle != 60 {
		t.Errorf("LongestIdle = %v, want 60", c.LongestIdle)
	}
	if (CadenceStats(events[:1]) != Cadence{}) {
		t.Error("single event should give zero cadence")
	}
}

func TestEdgeQuality(t *testing.T) {
	tests := []struct {
		from, to Kind
		latency  float64
		want     float64
	}{
		{KindDuplex, KindService, 5, 95},
		{KindPrompt, KindGit, 5, 70},
		{KindPrompt, KindGit, 100, 60},
		{KindPrompt, KindGit, 400, 45},
		{KindGit, KindService, 400, 70},
	}
	for _, tt := range tests {
		if got := EdgeQuality(tt.from, tt.to, tt.latency); got != tt.want {
			t.Errorf("EdgeQuality(%s,%s,%v) = %v, want %v", tt.from, tt.to, tt.latency, got, tt.want)
		}
	}
}

func TestLayerEdges(t *testing.T) {
	events := []Event{
		ev(1, "a", "t", KindDuplex),
		ev(5, "b", "t", KindService),
		ev(15, "c", "t", KindOntology),
		ev(25, "d", "t", KindService),
		ev(30, "e", "t", KindOntology),
	}
	edges := LayerEdges(events)
	if len(edges) != 3 {
		t.Fatalf("got %d edges: %+v", len(edges), edges)
	}
	first := edges[0]
	if first.ID() != "service->ontology" || first.Count != 2 {
		t.Errorf("most frequent edge = %+v", first)
	}
	if first.AvgLatencySec != 7.5 {
		t.Errorf("AvgLatencySec = %v, want 7.5", first.AvgLatencySec)
	}
	if edges[1].ID() != "duplex->service" || edges[2].ID() != "ontology->service" {
		t.Errorf("tie order = %s, %s", edges[1].ID(), edges[2].ID())
	}
}

func TestLogTrimKeepsNewest(t *testing.T) {
	l := NewLog(WithMaxEvents(3), WithRecomputeDelay(time.Hour))
	for i := 0; i < 5; i++ {
		l.Append(ev(i, "r", "t", KindPrompt))
	}
	got := l.Events()
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3", len(got))
	}
	for i, e := range got {
		if want := epoch.Add(time.Duration(i+2) * time.Second); !e.TS.Equal(want) {
			t.Errorf("event %d TS = %v, want %v", i, e.TS, want)
		}
	}

	l.Append(ev(-10, "r", "t", KindPrompt))
	if got := l.Events(); got[0].TS.Equal(epoch.Add(-10 * time.Second)) {
		t.Error("an older event appended late should be trimmed, not kept")
	}

	l.Trim(1)
	if l.Len() != 1 || !l.Events()[0].TS.Equal(epoch.Add(4*time.Second)) {
		t.Errorf("Trim(1) kept %+v", l.Events())
	}
}

func TestLogDebouncedRecompute(t *testing.T) {
	var calls atomic.Int32
	l := NewLog(WithRecomputeDelay(time.Hour), WithOnDerived(func(Derived) { calls.Add(1) }))
	for i := 0; i < 10; i++ {
		l.Append(ev(i*10, "r", "t", KindPrompt))
	}
	if calls.Load() != 0 {
		t.Fatal("recompute should be debounced")
	}
	l.FlushRecompute()
	if calls.Load() != 1 {
		t.Fatalf("expected one recompute, got %d", calls.Load())
	}
	d := l.Derived()
	if d.Events != 10 || d.Cadence.MeanSec != 10 {
		t.Errorf("Derived = %+v", d)
	}
}

func TestLogPersistence(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	l := NewLog(WithPersistEvents(2), WithRecomputeDelay(time.Hour))
	l.Append(ev(1, "a", "", KindPrompt), ev(2, "b", "", KindService), ev(3, "c", "t", KindGit))
	if err := l.Save(ctx, kv); err != nil {
		t.Fatal(err)
	}

	loaded := NewLog()
	if err := loaded.Load(ctx, kv); err != nil {
		t.Fatal(err)
	}
	got := loaded.Events()
	if len(got) != 2 || got[0].Route != "b" || got[1].Target != "t" {
		t.Errorf("loaded %+v", got)
	}

	empty := NewLog()
	if err := empty.Load(ctx, kvstore.NewMemory()); err != nil {
		t.Errorf("Load on empty store: %v", err)
	}
}

func TestBuildReport(t *testing.T) {
	events := []Event{
		ev(0, "autopilot/run", "a", KindPrompt),
		ev(10, "smoke", "", KindService),
		ev(40, "autopilot/run", "a", KindPrompt),
		ev(100, "smoke", "", KindService),
	}
	r := BuildReport(events)
	if len(r.PerRoute) != 2 || r.PerRoute[0].Name != "autopilot/run" || r.PerRoute[0].Count != 1 {
		t.Errorf("PerRoute = %+v", r.PerRoute)
	}
	if r.PerRoute[1].Name != "smoke" || r.PerRoute[1].Count != 2 || r.PerRoute[1].MeanSec != 35 {
		t.Errorf("smoke group = %+v", r.PerRoute[1])
	}
	var b strings.Builder
	if err := r.WriteText(&b); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{"events=4", "p50_interval=30.00s", "- smoke: n=2", "per-track:", "- -: n=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	b.Reset()
	_ = BuildReport(events[:1]).WriteText(&b)
	if !strings.Contains(b.String(), "insufficient data") {
		t.Errorf("short report = %q", b.String())
	}
}

func TestReplay(t *testing.T) {
	events := []Event{ev(0, "a", "", KindPrompt), ev(1, "b", "", KindPrompt), ev(2, "c", "", KindPrompt)}

	var got []string
	if err := Replay(context.Background(), events, 100, func(e Event) { got = append(got, e.Route) }); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("replayed %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var n int
	err := Replay(ctx, events, 0.001, func(Event) {
		n++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("emitted %d events before cancel, want 1", n)
	}
}

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte("name: stabilize\npause: 3s\nsteps:\n  - run smoke\n  - \"  \"\n  - fix failures\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "stabilize" || s.Pause.Duration != 3*time.Second || len(s.Steps) != 2 {
		t.Errorf("ParseScript = %+v", s)
	}

	s, err = ParseScript([]byte("steps: [one]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Pause.Duration != DefaultScriptPause {
		t.Errorf("default pause = %v", s.Pause.Duration)
	}

	if _, err := ParseScript([]byte("steps: []\n")); err == nil {
		t.Error("expected error for empty script")
	}
}
