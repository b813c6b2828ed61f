package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func plain(buf *bytes.Buffer, opts ...Option) *Formatter {
	opts = append([]Option{WithWriter(buf), WithStyles(NewStyles(buf, true)), WithWidth(80)}, opts...)
	return New(opts...)
}

func TestFormatString(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatText, "text"},
		{FormatJSON, "json"},
	}
	for _, tt := range tests {
		if got := tt.format.String(); got != tt.want {
			t.Errorf("Format.String() = %v, want %v", got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" json ", FormatJSON, false},
		{"yaml", FormatText, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
	if got := DetectFormat(true, "text"); got != FormatJSON {
		t.Errorf("DetectFormat(flag) = %v, want json", got)
	}
	if got := DetectFormat(false, "text"); got != FormatText {
		t.Errorf("DetectFormat(text) = %v", got)
	}
}

func TestFormatterJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := plain(buf, WithJSON(true))

	if err := f.JSON(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"hello": "world"`) {
		t.Errorf("JSON output = %s", buf.String())
	}
}

type result struct{ N int }

func (r result) Text(f *Formatter) error {
	f.Textln("n=%d", r.N)
	return nil
}

func (r result) JSON() interface{} { return map[string]int{"n": r.N} }

func TestOutput(t *testing.T) {
	for _, jsonMode := range []bool{false, true} {
		buf := &bytes.Buffer{}
		if err := plain(buf, WithJSON(jsonMode)).Output(result{N: 3}); err != nil {
			t.Fatal(err)
		}
		want := "n=3\n"
		if jsonMode {
			want = "{\n  \"n\": 3\n}\n"
		}
		if buf.String() != want {
			t.Errorf("Output(json=%v) = %q, want %q", jsonMode, buf.String(), want)
		}
	}
}

func TestTableAlignsWideRunes(t *testing.T) {
	buf := &bytes.Buffer{}
	tbl := plain(buf).Table("TARGET", "LANE")
	tbl.AddRow("main:0.1", "primary")
	tbl.AddRow("日本:0.2", "quarantine")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("Render() lines = %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "  TARGET    LANE" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "  --------  ----------" {
		t.Errorf("separator = %q", lines[1])
	}
	if lines[3] != "  日本:0.2  quarantine" {
		t.Errorf("wide row = %q", lines[3])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a long reason text", 10, "a long ..."},
		{"abcdef", 3, "abc"},
		{"日本語テキスト", 7, "日本..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	got := Wrap("12:00:01 dispatch autopilot/run to main:0.1 failed with HTTP 500", 30, 2)
	lines := strings.Split(got, "\n")
	if len(lines) < 2 {
		t.Fatalf("Wrap() = %q, want several lines", got)
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "  ") {
			t.Errorf("continuation %q not indented", l)
		}
	}
	if Wrap("short", 80, 2) != "short" {
		t.Error("short text should be unchanged")
	}
}

func TestTail(t *testing.T) {
	got := Tail("a\n\nb\nc\n\n", 2)
	if strings.Join(got, ",") != "b,c" {
		t.Errorf("Tail() = %v", got)
	}
}

func TestCLIError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	e := NewCLIError("panel unreachable").WithCause(cause.Error()).WithHint(HintUnreachable).WithCode("UNREACHABLE")
	e.Err = cause
	if !errors.Is(e, cause) {
		t.Error("CLIError should unwrap to its cause")
	}

	var stdout, stderr bytes.Buffer
	if err := WriteCLIError(&stdout, &stderr, e, false); err != nil {
		t.Fatal(err)
	}
	want := "Error: panel unreachable [UNREACHABLE]\n  Cause: dial tcp: refused\n  Hint: " + HintUnreachable + "\n"
	if stderr.String() != want {
		t.Errorf("text error = %q, want %q", stderr.String(), want)
	}

	stderr.Reset()
	if err := WriteCLIError(&stdout, &stderr, e, true); err != nil {
		t.Fatal(err)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		t.Fatalf("json error output: %v", err)
	}
	if resp.Code != "UNREACHABLE" || resp.Details != cause.Error() || stderr.Len() != 0 {
		t.Errorf("json error = %+v", resp)
	}
}

func TestSteps(t *testing.T) {
	buf := &bytes.Buffer{}
	s := plain(buf).Steps().SetTotal(3)
	s.Start("state").Done()
	s.Start("autopilot/run").Fail("HTTP 404")
	s.Start("smoke").Skip("not advertised")

	want := "  [1/3] state... [OK]\n  [2/3] autopilot/run... [FAIL] HTTP 404\n  [3/3] smoke... [SKIP] not advertised\n"
	if buf.String() != want {
		t.Errorf("steps output = %q, want %q", buf.String(), want)
	}
	if s.Failed() != 1 || s.Status() != StepSkipped {
		t.Errorf("Failed() = %d, Status() = %v", s.Failed(), s.Status())
	}
}

func TestComputeDiff(t *testing.T) {
	d := ComputeDiff("a", "one\ntwo\n", "b", "one\ntwo\n")
	if d.Similarity != 1 || d.UnifiedDiff != "" || d.LineCount1 != 2 {
		t.Errorf("identical diff = %+v", d)
	}
	d = ComputeDiff("a", "one\ntwo\n", "b", "one\nthree\n")
	if d.Similarity >= 1 || d.UnifiedDiff == "" {
		t.Errorf("changed diff = %+v", d)
	}
	if empty := ComputeDiff("a", "", "b", ""); empty.Similarity != 1 || empty.LineCount1 != 0 {
		t.Errorf("empty diff = %+v", empty)
	}
}

func TestStylesLevelPlain(t *testing.T) {
	s := NewStyles(&bytes.Buffer{}, true)
	if s.Colored() {
		t.Error("buffer styles should not be colored")
	}
	if got := s.Level("critical"); got != "critical" {
		t.Errorf("Level() = %q", got)
	}
}
