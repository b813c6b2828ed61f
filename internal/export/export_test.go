package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/timeline"
)

var t0 = time.Unix(1_700_000_000, 0)

func sampleEvents() []timeline.Event {
	return []timeline.Event{
		timeline.NewEvent(t0.Add(30*time.Second), panel.RouteSmoke, "", "smoke", timeline.KindService),
		timeline.NewEvent(t0, panel.RouteAutopilot, "main:0.1", "run smoke checks", ""),
		timeline.NewEvent(t0.Add(10*time.Second), panel.RouteAutopilot, "main:0.1", "commit the fix", ""),
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DataDir(); got != filepath.Join("/custom/data", "manicctl") {
		t.Errorf("DataDir() = %q", got)
	}
}

func TestWriteReadHistory(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHistory(&buf, sampleEvents()); err != nil {
		t.Fatalf("WriteHistory() error = %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Fatalf("lines = %d, want 3", lines)
	}

	buf.WriteString("\nnot json\n")
	evs, skipped, err := ReadHistory(&buf)
	if err != nil {
		t.Fatalf("ReadHistory() error = %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(evs) != 3 {
		t.Fatalf("events = %d, want 3", len(evs))
	}
	if !evs[0].TS.Equal(t0) || evs[1].Kind != timeline.KindGit || evs[2].Route != panel.RouteSmoke {
		t.Errorf("events out of order or misdecoded: %+v", evs)
	}
	if evs[0].Target != "main:0.1" || evs[2].Target != "" {
		t.Errorf("targets = %q, %q", evs[0].Target, evs[2].Target)
	}
}

func TestHistoryFile(t *testing.T) {
	tests := []struct {
		name string
		zstd bool
		ext  string
	}{
		{"plain", false, ".ndjson"},
		{"zstd", true, ".ndjson.zst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(t.TempDir(), tt.zstd).WithClock(func() time.Time { return t0 })
			path, err := e.History(sampleEvents())
			if err != nil {
				t.Fatalf("History() error = %v", err)
			}
			if !strings.HasSuffix(path, "prompt-history-20231114-221320"+tt.ext) {
				t.Errorf("path = %q", path)
			}
			evs, skipped, err := OpenHistory(path)
			if err != nil {
				t.Fatalf("OpenHistory() error = %v", err)
			}
			if len(evs) != 3 || skipped != 0 {
				t.Errorf("read %d events, %d skipped", len(evs), skipped)
			}
		})
	}
}

func TestCadenceReport(t *testing.T) {
	e := New(t.TempDir(), false)
	path, err := e.CadenceReport(sampleEvents())
	if err != nil {
		t.Fatalf("CadenceReport() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"events=3", "mean_interval=15.00s", "per-route:", "- smoke: n=1", "per-track:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("report missing %q:\n%s", want, data)
		}
	}
}

func TestProfile(t *testing.T) {
	o := orchestrator.New(panel.NewClient(), orchestrator.WithClock(func() time.Time { return t0 }))
	o.Scope.LatchIntent("stabilize the build")
	o.Telemetry.Record(panel.RouteAutopilot, "main:0.1", true)
	o.Timeline.Append(sampleEvents()...)

	p := BuildProfile(o, t0)
	if len(p.Telemetry) != 2 {
		t.Errorf("telemetry rows = %d, want global and scoped", len(p.Telemetry))
	}
	if p.Layers[timeline.KindGit] != 1 {
		t.Errorf("layers = %v", p.Layers)
	}

	md := p.Markdown()
	for _, want := range []string{"# Session profile", "> stabilize the build", "latched: true", "| autopilot/run | main:0.1 | 1 | 0 | 100% |"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	e := New(t.TempDir(), false).WithClock(func() time.Time { return t0 })
	jsonPath, mdPath, err := e.Profile(p)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if filepath.Ext(jsonPath) != ".json" || filepath.Ext(mdPath) != ".md" {
		t.Errorf("paths = %s, %s", jsonPath, mdPath)
	}
	if _, err := os.Stat(mdPath); err != nil {
		t.Errorf("markdown not written: %v", err)
	}
}

func TestRender(t *testing.T) {
	out, err := Render("# Title\n\nbody text", 40)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "Title") {
		t.Errorf("Render() = %q", out)
	}
}
