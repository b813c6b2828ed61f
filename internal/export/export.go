// Package export writes operator artifacts to the application data
// directory: NDJSON prompt history, cadence reports and session profiles.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/uprootiny/manicctl/internal/timeline"
)

const (
	appName = "manicctl"

	// HistoryExt and ZstdExt name exported history files.
	HistoryExt = ".ndjson"
	ZstdExt    = ".zst"

	maxLineBytes = 5 * 1024 * 1024
)

// DataDir returns the application data directory.
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share/manicctl.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return appName
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, appName)
}

// Exporter writes timestamped artifacts into Dir.
type Exporter struct {
	Dir  string
	Zstd bool
	now  func() time.Time
}

// New returns an exporter writing to dir, or DataDir when dir is empty.
func New(dir string, compress bool) *Exporter {
	if dir == "" {
		dir = DataDir()
	}
	return &Exporter{Dir: dir, Zstd: compress, now: time.Now}
}

// WithClock overrides the time used in file names.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

func (e *Exporter) path(prefix, ext string) (string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s%s", prefix, e.now().UTC().Format("20060102-150405"), ext)
	return filepath.Join(e.Dir, name), nil
}

// History writes events as NDJSON, zstd-compressed when e.Zstd is set,
// and returns the file path.
func (e *Exporter) History(events []timeline.Event) (string, error) {
	ext := HistoryExt
	if e.Zstd {
		ext += ZstdExt
	}
	path, err := e.path("prompt-history", ext)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var w io.Writer = f
	var enc *zstd.Encoder
	if e.Zstd {
		enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return "", fmt.Errorf("zstd writer: %w", err)
		}
		w = enc
	}
	if err := WriteHistory(w, events); err != nil {
		return "", err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("zstd close: %w", err)
		}
	}
	return path, f.Close()
}

// WriteHistory writes one JSON event per line, oldest first.
func WriteHistory(w io.Writer, events []timeline.Event) error {
	bw := bufio.NewWriter(w)
	for _, ev := range timeline.Sorted(events) {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHistory parses NDJSON events. Blank and malformed lines are
// skipped; skipped reports how many were malformed.
func ReadHistory(r io.Reader) (events []timeline.Event, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev timeline.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return timeline.Sorted(events), skipped, scanner.Err()
}

// OpenHistory reads an exported history file, decompressing .zst files.
func OpenHistory(path string) ([]timeline.Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ZstdExt) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, 0, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	return ReadHistory(r)
}

// CadenceReport writes the plain-text cadence analysis of events and
// returns the file path.
func (e *Exporter) CadenceReport(events []timeline.Event) (string, error) {
	path, err := e.path("cadence-report", ".txt")
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := timeline.BuildReport(events).WriteText(f); err != nil {
		return "", err
	}
	return path, f.Close()
}
