package panel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func contractServer(t *testing.T, withSmoke bool, seen map[string]map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	index := `/api/state /api/autopilot/run /api/queue/add`
	if withSmoke {
		index += ` /api/smoke`
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, index)
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, sampleState)
	})
	for _, r := range Routes {
		if r.Method != http.MethodPost {
			continue
		}
		path := r.Path
		if path == "/api/smoke" && !withSmoke {
			continue
		}
		mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(req.Body).Decode(&body)
			if seen != nil {
				seen[path] = body
			}
			io.WriteString(w, `{"ok":true}`)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateHintsOnly(t *testing.T) {
	tests := []struct {
		name      string
		withSmoke bool
		wantPass  bool
	}{
		{"all critical hinted", true, true},
		{"smoke missing", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := contractServer(t, tt.withSmoke, nil)
			c := NewClient(WithBaseURL(srv.URL))
			rep, err := c.Validate(context.Background(), false)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if rep.Pass() != tt.wantPass {
				t.Errorf("Pass() = %v, want %v (missing %v)", rep.Pass(), tt.wantPass, rep.MissingCritical)
			}
			if len(rep.Checks) != len(Routes) {
				t.Fatalf("checks = %d, want %d", len(rep.Checks), len(Routes))
			}
			for _, chk := range rep.Checks {
				if chk.Method == http.MethodPost && !chk.Skipped {
					t.Errorf("%s probed without probePost", chk.Path)
				}
			}
		})
	}
}

func TestValidateProbePost(t *testing.T) {
	seen := make(map[string]map[string]any)
	srv := contractServer(t, true, seen)
	c := NewClient(WithBaseURL(srv.URL))

	rep, err := c.Validate(context.Background(), true)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !rep.Pass() {
		t.Fatalf("Pass() = false, missing %v", rep.MissingCritical)
	}
	auto := seen["/api/autopilot/run"]
	if auto["prompt"] != "diagnose only" || auto["auto_approve"] != false || auto["project"] != "/home/u/ManicAI" {
		t.Errorf("autopilot payload = %v", auto)
	}
	if got := seen["/api/pane/send"]["target"]; got != "main:0.1" {
		t.Errorf("pane/send target = %v, want takeover candidate", got)
	}
	if got := seen["/api/nudge"]["session_id"]; got != "s1" {
		t.Errorf("nudge session = %v", got)
	}
	if got := seen["/api/spawn"]["session_name"]; got != "noop-validator" {
		t.Errorf("spawn session_name = %v", got)
	}
}
