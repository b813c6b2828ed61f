package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/uprootiny/manicctl/internal/config"
	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
	"github.com/uprootiny/manicctl/internal/scope"
)

// resetFlags restores every flag in the command tree to its default.
// Commands are built once in init, so parsed values would otherwise leak
// between tests.
func resetFlags() {
	cfg = nil
	var walk func(c *cobra.Command)
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	walk = func(c *cobra.Command) {
		reset(c.Flags())
		reset(c.PersistentFlags())
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

const surfaceState = `{
  "sessions": [{"id": "main"}],
  "takeover_candidates": [
    {"target": "main:0.1", "throughput_bps": 5, "capture": "a\nb"},
    {"target": "main:0.2", "throughput_bps": 10, "capture": "x"}
  ],
  "projects": [{"path": "/srv/proj"}],
  "queue": [],
  "smoke": {"status": "pass", "passes": 4, "fails": 0}
}`

// fakeSurface serves the control-plane routes and counts POSTs.
type fakeSurface struct {
	mu    sync.Mutex
	posts map[string]int
	srv   *httptest.Server
}

func (fs *fakeSurface) count(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.posts[path]
}

// setup starts a fake surface and points config, state and exports at
// temp directories.
func setup(t *testing.T) *fakeSurface {
	t.Helper()
	resetFlags()

	fs := &fakeSurface{posts: make(map[string]int)}
	var index strings.Builder
	for _, r := range panel.Routes {
		index.WriteString(r.Path + "\n")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, index.String())
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, surfaceState)
	})
	for _, r := range panel.Routes {
		if r.Method != http.MethodPost {
			continue
		}
		mux.HandleFunc(r.Path, func(w http.ResponseWriter, req *http.Request) {
			fs.mu.Lock()
			fs.posts[req.URL.Path]++
			fs.mu.Unlock()
			io.WriteString(w, "accepted\nabc1234 fix smoke runner\n")
		})
	}
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(config.EnvStateDB, filepath.Join(dir, "state", "state.db"))
	t.Setenv(config.EnvBaseURL, fs.srv.URL)
	t.Setenv(config.EnvOutputFormat, "")
	t.Setenv("NO_COLOR", "1")
	return fs
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
}

func TestExecuteHelp(t *testing.T) {
	setup(t)
	out := mustRun(t, "--help")
	for _, want := range []string{"autopilot", "commute", "scope", "breakers", "watch"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	setup(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default", []string{"version"}, "manicctl version " + Version},
		{"short", []string{"version", "--short"}, Version},
		{"json", []string{"version", "--json"}, `"go_version"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustRun(t, tt.args...)
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestStatusJSON(t *testing.T) {
	fs := setup(t)
	out := mustRun(t, "status", "--json")

	var st struct {
		BaseURL   string `json:"base_url"`
		Reachable bool   `json:"reachable"`
		Targets   int    `json:"targets"`
		Smoke     string `json:"smoke"`
	}
	decode(t, out, &st)
	if !st.Reachable || st.Targets != 2 || st.Smoke != "pass" {
		t.Errorf("status = %+v", st)
	}
	if !strings.HasPrefix(st.BaseURL, fs.srv.URL) {
		t.Errorf("base_url = %q, want %q", st.BaseURL, fs.srv.URL)
	}
}

func TestAutopilotRequiresLatch(t *testing.T) {
	fs := setup(t)
	_, err := run(t, "autopilot")
	if err == nil {
		t.Fatal("autopilot without latch succeeded")
	}
	ce := toCLIError(err)
	if ce.Code != "POLICY" || ce.Hint != output.HintLatchIntent {
		t.Errorf("toCLIError() = %+v", ce)
	}
	if n := fs.count("/api/autopilot/run"); n != 0 {
		t.Errorf("blocked autopilot sent %d requests", n)
	}
}

func TestLatchThenAutopilot(t *testing.T) {
	fs := setup(t)
	mustRun(t, "scope", "latch", "stabilize the build")

	out := mustRun(t, "scope", "--json")
	var sv struct {
		Latched bool         `json:"latched"`
		Ledger  scope.Ledger `json:"ledger"`
	}
	decode(t, out, &sv)
	if !sv.Latched || sv.Ledger.LatchChecksum == "" {
		t.Fatalf("scope after latch = %+v", sv)
	}

	out = mustRun(t, "autopilot", "fix lint", "--json")
	var rv struct {
		Route  string `json:"route"`
		Result struct {
			StatusCode int `json:"status"`
		} `json:"result"`
	}
	decode(t, out, &rv)
	if rv.Route != panel.RouteAutopilot || rv.Result.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", rv)
	}
	if n := fs.count("/api/autopilot/run"); n != 1 {
		t.Errorf("autopilot requests = %d, want 1", n)
	}

	out = mustRun(t, "journal")
	if !strings.Contains(out, "intent latched") {
		t.Errorf("journal missing latch entry:\n%s", out)
	}
}

func TestPanicBlocksAndClears(t *testing.T) {
	fs := setup(t)
	mustRun(t, "scope", "latch", "ship it")
	out := mustRun(t, "panic", "agents looping")
	if !strings.Contains(out, "PANIC ENGAGED") {
		t.Errorf("panic output = %q", out)
	}

	_, err := run(t, "smoke")
	if !errors.Is(err, orchestrator.ErrPanic) {
		t.Fatalf("smoke during panic = %v, want ErrPanic", err)
	}
	if ce := toCLIError(err); ce.Hint != output.HintPanic {
		t.Errorf("hint = %q", ce.Hint)
	}
	if n := fs.count("/api/smoke"); n != 0 {
		t.Errorf("smoke requests during panic = %d", n)
	}

	out = mustRun(t, "lanes", "--json")
	var rows []struct {
		Target string `json:"target"`
		Lane   string `json:"lane"`
	}
	decode(t, out, &rows)
	if len(rows) != 2 {
		t.Fatalf("lanes during panic = %+v", rows)
	}
	for _, r := range rows {
		if r.Lane != "quarantine" {
			t.Errorf("%s lane = %q, want quarantine", r.Target, r.Lane)
		}
	}

	mustRun(t, "panic", "--clear")
	mustRun(t, "smoke")
	if n := fs.count("/api/smoke"); n != 1 {
		t.Errorf("smoke requests after clear = %d, want 1", n)
	}
}

func TestLanesSet(t *testing.T) {
	setup(t)
	mustRun(t, "lanes", "set", "main:0.1", "primary")
	out := mustRun(t, "lanes", "--json")

	var rows []struct {
		Target string `json:"target"`
		Lane   string `json:"lane"`
	}
	decode(t, out, &rows)
	if len(rows) != 1 || rows[0].Target != "main:0.1" || rows[0].Lane != "primary" {
		t.Errorf("lanes = %+v", rows)
	}

	if _, err := run(t, "lanes", "set", "main:0.1", "vip"); err == nil {
		t.Error("invalid lane accepted")
	}
}

func TestThrottleOverridePersists(t *testing.T) {
	setup(t)
	type tuning struct {
		Fanout   int   `json:"fanout"`
		Cooldown int64 `json:"cooldown"`
	}

	var got tuning
	decode(t, mustRun(t, "throttle", "--fanout", "1", "--cooldown", "30s", "--json"), &got)
	if got.Fanout != 1 {
		t.Fatalf("fanout after override = %d", got.Fanout)
	}

	got = tuning{}
	decode(t, mustRun(t, "throttle", "--json"), &got)
	if got.Fanout != 1 || got.Cooldown != int64(30e9) {
		t.Errorf("override not persisted: %+v", got)
	}

	got = tuning{}
	decode(t, mustRun(t, "throttle", "--reset", "--json"), &got)
	if want := config.Default().Tuning().Fanout; got.Fanout != want {
		t.Errorf("fanout after reset = %d, want %d", got.Fanout, want)
	}

	if _, err := run(t, "throttle", "--fanout", "0"); err == nil {
		t.Error("fanout 0 accepted")
	}
}

func TestBreakerDrill(t *testing.T) {
	setup(t)
	out := mustRun(t, "breakers", "drill", panel.RouteAutopilot, "main:0.1", "--fail", "6", "--json")
	var v struct {
		Breakers []struct {
			Route  string `json:"route"`
			Target string `json:"target"`
			Open   bool   `json:"open"`
		} `json:"breakers"`
	}
	decode(t, out, &v)
	open := false
	for _, b := range v.Breakers {
		if b.Route == panel.RouteAutopilot && b.Open {
			open = true
		}
	}
	if !open {
		t.Errorf("no open autopilot breaker after drill: %+v", v.Breakers)
	}

	if _, err := run(t, "breakers", "drill", "no/such/route"); err == nil {
		t.Error("unknown route accepted")
	}
}

func TestValidateJSON(t *testing.T) {
	setup(t)
	out := mustRun(t, "validate", "--json")
	var rep panel.ValidationReport
	decode(t, out, &rep)
	if !rep.Pass() || len(rep.Checks) != len(panel.Routes) {
		t.Errorf("report = %+v", rep)
	}
}

func TestWatchOnce(t *testing.T) {
	setup(t)
	out := mustRun(t, "watch", "--once")
	if !strings.Contains(out, "targets=2") && !strings.Contains(out, "2 targets") {
		t.Errorf("watch --once output = %q", out)
	}
}

func TestSnapshotRejectsEmpty(t *testing.T) {
	fs := setup(t)
	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "snapshot", "build", "--file", empty); err == nil {
		t.Error("empty snapshot accepted")
	}
	if n := fs.count("/api/snapshot/ingest"); n != 0 {
		t.Errorf("snapshot requests = %d", n)
	}
}

func TestConfigCommands(t *testing.T) {
	setup(t)

	out := mustRun(t, "config", "path")
	if !strings.Contains(out, filepath.Join("manicctl", "config.toml")) {
		t.Errorf("config path = %q", out)
	}

	mustRun(t, "config", "init")
	if _, err := run(t, "config", "init"); err == nil {
		t.Error("second config init succeeded")
	}

	out = mustRun(t, "config", "show")
	if !strings.Contains(out, "[panel]") {
		t.Errorf("config show missing [panel]:\n%s", out)
	}

	out = mustRun(t, "config", "profiles")
	for _, name := range config.ProfileNames() {
		if !strings.Contains(out, name) {
			t.Errorf("profiles missing %q", name)
		}
	}
}

func TestResolveScript(t *testing.T) {
	cfg = config.Default()
	t.Cleanup(func() { cfg = nil })

	if _, err := resolveScript("", ""); err == nil {
		t.Error("resolveScript with nothing configured succeeded")
	}

	sc, err := resolveScript("", "deepwork")
	if err != nil || len(sc.Steps) == 0 {
		t.Errorf("profile script = %+v, %v", sc, err)
	}

	path := filepath.Join(t.TempDir(), "nudges.yaml")
	body := "name: mine\npause: 9s\nsteps:\n  - one\n  - two\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	sc, err = resolveScript(path, "deepwork")
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "mine" || len(sc.Steps) != 2 {
		t.Errorf("file script = %+v", sc)
	}
}

func TestToCLIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantHint string
	}{
		{"latch", &orchestrator.PolicyError{Op: "autopilot/run", Reason: "intent not latched", Err: orchestrator.ErrIntentNotLatched}, "POLICY", output.HintLatchIntent},
		{"budget", &orchestrator.PolicyError{Op: "smoke", Reason: "budget", Err: orchestrator.ErrBudgetExceeded}, "POLICY", output.HintBudget},
		{"breaker", fmt.Errorf("wrapped: %w", orchestrator.ErrBreakerOpen), "", output.HintBreakerOpen},
		{"unreachable", panel.NewAPIError("state", 0, panel.ErrServerUnavailable), "UNREACHABLE", output.HintUnreachable},
		{"plain", errors.New("boom"), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := toCLIError(tt.err)
			if ce.Code != tt.wantCode || ce.Hint != tt.wantHint {
				t.Errorf("toCLIError() = code %q hint %q, want %q %q", ce.Code, ce.Hint, tt.wantCode, tt.wantHint)
			}
			if !errors.Is(ce, tt.err) {
				t.Error("CLIError does not unwrap to the original")
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"a", "", "b", "a", "c", "b"})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("dedupe() = %v", got)
	}
}
