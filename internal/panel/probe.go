package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Probe is the reachability picture of one surface.
type Probe struct {
	BaseURL        string        `json:"base_url"`
	StateReachable bool          `json:"state_ok"`
	StateStatus    int           `json:"state_status"`
	StateLatency   time.Duration `json:"state_latency"`
	Healthy        bool          `json:"health_ok"`
	HealthStatus   int           `json:"health_status"`
	TmuxReachable  bool          `json:"tmux_ok"`
	TmuxHint       string        `json:"tmux_hint,omitempty"`
	Sessions       int           `json:"sessions"`
	Candidates     int           `json:"candidates"`
	SmokeStatus    string        `json:"smoke"`
	Error          string        `json:"error,omitempty"`
}

// Score ranks reachable surfaces. Unreachable state scores 0; otherwise a
// base of 100 plus health, tmux, smoke and workload bonuses, less one
// point per 100ms of state latency.
func (p Probe) Score() int {
	if !p.StateReachable {
		return 0
	}
	score := 100
	if p.Healthy {
		score += 20
	}
	if p.TmuxReachable {
		score += 5
	}
	if strings.EqualFold(p.SmokeStatus, "pass") {
		score += 10
	}
	score += 3*p.Candidates + p.Sessions
	score -= int(p.StateLatency / (100 * time.Millisecond))
	if score < 1 {
		score = 1
	}
	return score
}

func (p Probe) String() string {
	ok := func(b bool) string {
		if b {
			return "ok"
		}
		return "fail"
	}
	return fmt.Sprintf("state=%s health=%s sessions=%d candidates=%d smoke=%s",
		ok(p.StateReachable), ok(p.Healthy), p.Sessions, p.Candidates, p.SmokeStatus)
}

// ProbeSurface fetches /api/state, /health and /tmux from base
// concurrently.
func ProbeSurface(ctx context.Context, hc *http.Client, base string) Probe {
	p := Probe{BaseURL: base, SmokeStatus: Unknown}
	norm, err := NormalizeBaseURL(base)
	if err != nil {
		p.Error = err.Error()
		return p
	}
	p.BaseURL = norm

	var (
		wg        sync.WaitGroup
		stateCode int
		stateBody []byte
		stateErr  error
		latency   time.Duration
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		t0 := time.Now()
		stateCode, stateBody, stateErr = exchange(ctx, hc, "manicctl-recon", norm, RouteState, http.MethodGet, "/api/state", nil)
		latency = time.Since(t0)
	}()
	go func() {
		defer wg.Done()
		code, _, err := exchange(ctx, hc, "manicctl-recon", norm, "health", http.MethodGet, "/health", nil)
		p.HealthStatus = code
		p.Healthy = err == nil && code >= 200 && code < 300
	}()
	go func() {
		defer wg.Done()
		code, body, err := exchange(ctx, hc, "manicctl-recon", norm, "tmux", http.MethodGet, "/tmux", nil)
		p.TmuxReachable = err == nil && code >= 200 && code < 300
		switch s := string(body); {
		case strings.Contains(s, "COGGY TMUX"):
			p.TmuxHint = "COGGY TMUX"
		case strings.Contains(s, "TMUX"):
			p.TmuxHint = "TMUX"
		}
	}()
	wg.Wait()

	p.StateStatus = stateCode
	p.StateLatency = latency
	if stateErr != nil {
		p.Error = stateErr.Error()
		return p
	}
	if stateCode < 200 || stateCode > 299 {
		p.Error = fmt.Sprintf("state: HTTP %d", stateCode)
		return p
	}
	var st PanelState
	if err := json.Unmarshal(stateBody, &st); err != nil {
		p.Error = fmt.Sprintf("state: %v", err)
		return p
	}
	p.StateReachable = true
	p.Sessions = len(st.Sessions)
	p.Candidates = len(st.TakeoverCandidates)
	p.SmokeStatus = st.Smoke.Status
	return p
}

// ProbeAll probes every base concurrently and returns results sorted by
// score, best first.
func ProbeAll(ctx context.Context, hc *http.Client, bases []string) []Probe {
	out := make([]Probe, len(bases))
	var wg sync.WaitGroup
	for i, b := range bases {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			out[i] = ProbeSurface(ctx, hc, b)
		}(i, b)
	}
	wg.Wait()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
	return out
}

// SelectBest returns the highest scoring reachable probe.
func SelectBest(probes []Probe) (Probe, bool) {
	var best Probe
	found := false
	for _, p := range probes {
		if !p.StateReachable {
			continue
		}
		if !found || p.Score() > best.Score() {
			best, found = p, true
		}
	}
	return best, found
}

// ProbeAndSelectBestEndpoint probes bases and switches the client to the
// best reachable one. When none is reachable the base URL is unchanged
// and ErrServerUnavailable is returned.
func (c *Client) ProbeAndSelectBestEndpoint(ctx context.Context, bases []string) (Probe, []Probe, error) {
	probes := ProbeAll(ctx, c.httpClient, bases)
	best, ok := SelectBest(probes)
	if !ok {
		return Probe{}, probes, NewAPIError("recon", 0, ErrServerUnavailable)
	}
	if err := c.SetBaseURL(best.BaseURL); err != nil {
		return Probe{}, probes, err
	}
	return best, probes, nil
}
