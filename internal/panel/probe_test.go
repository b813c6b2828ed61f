package panel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func surface(t *testing.T, state string, healthy bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, _ *http.Request) {
		if state == "" {
			http.Error(w, "nope", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, state)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/tmux", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "<title>COGGY TMUX</title>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeSurface(t *testing.T) {
	srv := surface(t, sampleState, true)
	p := ProbeSurface(context.Background(), srv.Client(), srv.URL+"/")
	if !p.StateReachable || !p.Healthy || !p.TmuxReachable {
		t.Fatalf("probe = %+v", p)
	}
	if p.BaseURL != srv.URL {
		t.Errorf("BaseURL = %q, want normalized %q", p.BaseURL, srv.URL)
	}
	if p.TmuxHint != "COGGY TMUX" {
		t.Errorf("TmuxHint = %q", p.TmuxHint)
	}
	if p.Sessions != 2 || p.Candidates != 1 || p.SmokeStatus != "pass" {
		t.Errorf("probe counts = %+v", p)
	}
	if p.Score() <= 100 {
		t.Errorf("Score() = %d, want > 100", p.Score())
	}
}

func TestProbeScore(t *testing.T) {
	tests := []struct {
		name string
		p    Probe
		want int
	}{
		{"unreachable", Probe{Healthy: true}, 0},
		{"bare", Probe{StateReachable: true}, 100},
		{"healthy with work", Probe{StateReachable: true, Healthy: true, TmuxReachable: true, Candidates: 2, Sessions: 3, SmokeStatus: "pass"}, 100 + 20 + 5 + 10 + 6 + 3},
		{"slow", Probe{StateReachable: true, StateLatency: 450 * time.Millisecond}, 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Score(); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProbeAndSelectBestEndpoint(t *testing.T) {
	down := surface(t, "", false)
	weak := surface(t, `{"sessions": []}`, false)
	strong := surface(t, sampleState, true)

	c := NewClient()
	before := c.BaseURL()
	best, probes, err := c.ProbeAndSelectBestEndpoint(context.Background(), []string{down.URL, weak.URL, strong.URL})
	if err != nil {
		t.Fatalf("ProbeAndSelectBestEndpoint() error = %v", err)
	}
	if len(probes) != 3 {
		t.Fatalf("probes = %d, want 3", len(probes))
	}
	if best.BaseURL != strong.URL || c.BaseURL() != strong.URL {
		t.Errorf("selected %q (client %q), want %q", best.BaseURL, c.BaseURL(), strong.URL)
	}
	if probes[0].BaseURL != strong.URL || probes[2].BaseURL != down.URL {
		t.Errorf("probes not sorted best first: %v", []string{probes[0].BaseURL, probes[1].BaseURL, probes[2].BaseURL})
	}

	c2 := NewClient(WithBaseURL(before))
	if _, _, err := c2.ProbeAndSelectBestEndpoint(context.Background(), []string{down.URL, "::bad"}); !IsServerUnavailable(err) {
		t.Fatalf("error = %v, want server unavailable", err)
	}
	if c2.BaseURL() != before {
		t.Errorf("base URL changed to %q with no reachable surface", c2.BaseURL())
	}
}
