package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/uprootiny/manicctl/internal/kvstore"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/scope"
)

const baseState = `{
  "sessions": [{"id": "main"}],
  "takeover_candidates": [
    {"target": "main:0.1", "throughput_bps": 5, "capture": "a\nb"},
    {"target": "main:0.2", "throughput_bps": 10, "capture": "x"}
  ],
  "projects": [{"path": "/srv/proj"}],
  "queue": [],
  "smoke": {"status": "pass", "passes": 4, "fails": 0}
}`

type request struct {
	Path string
	Body map[string]any
}

// fakePanel is a scripted panel server that records every request.
type fakePanel struct {
	mu       sync.Mutex
	state    string
	index    string
	status   map[string]int
	bodies   map[string]string
	requests []request
	gate     chan struct{} // when set, GET /api/state blocks until it is closed
	entered  chan struct{}
	srv      *httptest.Server
}

func newFakePanel(t *testing.T) *fakePanel {
	t.Helper()
	fp := &fakePanel{
		state:  baseState,
		status: make(map[string]int),
		bodies: make(map[string]string),
	}
	for _, r := range panel.Routes {
		fp.index += r.Path + "\n"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		index := fp.index
		fp.mu.Unlock()
		io.WriteString(w, index)
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		fp.record(r)
		fp.mu.Lock()
		gate, entered := fp.gate, fp.entered
		fp.mu.Unlock()
		if gate != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-gate
		}
		if code := fp.code(r.URL.Path); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		fp.mu.Lock()
		body := fp.state
		fp.mu.Unlock()
		io.WriteString(w, body)
	})
	for _, r := range panel.Routes {
		if r.Method != http.MethodPost {
			continue
		}
		mux.HandleFunc(r.Path, func(w http.ResponseWriter, req *http.Request) {
			fp.record(req)
			code := fp.code(req.URL.Path)
			fp.mu.Lock()
			body, ok := fp.bodies[req.URL.Path]
			fp.mu.Unlock()
			if !ok {
				body = "accepted\nabc1234 fix smoke runner\n"
			}
			w.WriteHeader(code)
			io.WriteString(w, body)
		})
	}
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakePanel) record(r *http.Request) {
	var body map[string]any
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	fp.mu.Lock()
	fp.requests = append(fp.requests, request{Path: r.URL.Path, Body: body})
	fp.mu.Unlock()
}

func (fp *fakePanel) code(path string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if c, ok := fp.status[path]; ok {
		return c
	}
	return http.StatusOK
}

func (fp *fakePanel) setStatus(path string, code int) {
	fp.mu.Lock()
	fp.status[path] = code
	fp.mu.Unlock()
}

func (fp *fakePanel) setBody(path, body string) {
	fp.mu.Lock()
	fp.bodies[path] = body
	fp.mu.Unlock()
}

func (fp *fakePanel) setIndex(body string) {
	fp.mu.Lock()
	fp.index = body
	fp.mu.Unlock()
}

func (fp *fakePanel) setState(body string) {
	fp.mu.Lock()
	fp.state = body
	fp.mu.Unlock()
}

// posts returns the recorded POST requests to path.
func (fp *fakePanel) posts(path string) []request {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var out []request
	for _, r := range fp.requests {
		if r.Path == path && r.Body != nil {
			out = append(out, r)
		}
	}
	return out
}

func (fp *fakePanel) count(path string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	n := 0
	for _, r := range fp.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// sleepRecorder records pauses and advances the clock instead of blocking.
type sleepRecorder struct {
	mu     sync.Mutex
	clock  *testClock
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	s.clock.advance(d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type harness struct {
	o     *Orchestrator
	fp    *fakePanel
	clock *testClock
	sleep *sleepRecorder
	kv    kvstore.Store
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	fp := newFakePanel(t)
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		fp:    fp,
		clock: clock,
		sleep: &sleepRecorder{clock: clock},
		kv:    kvstore.NewMemory(),
	}
	base := []Option{
		WithKV(h.kv),
		WithClock(h.clock.now),
		WithSleep(h.sleep.sleep),
		WithFlushDelay(time.Hour),
	}
	h.o = New(panel.NewClient(panel.WithBaseURL(fp.srv.URL)), append(base, opts...)...)
	return h
}

// latched returns a harness whose intent is latched with a roomy budget.
func latched(t *testing.T, opts ...Option) *harness {
	t.Helper()
	c := scope.DefaultContract()
	c.AttentionBudgetActions = 50
	c.MaxCycles = 5
	h := newHarness(t, append([]Option{WithContract(c)}, opts...)...)
	h.o.Scope.LatchIntent("stabilize the build")
	return h
}
