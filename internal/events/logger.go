package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultLogPath is the default location for the journal.
	DefaultLogPath = "~/.local/share/manicctl/journal.jsonl"

	// DefaultRetentionDays is the number of days to retain entries.
	DefaultRetentionDays = 14

	// RotationCheckInterval is how often to check for rotation (in events).
	RotationCheckInterval = 100
)

// Logger appends events to a JSONL file and drops entries older than the
// retention period at most once a day.
type Logger struct {
	path          string
	retentionDays int
	enabled       bool
	mu            sync.Mutex
	file          *os.File
	eventCount    int
	lastRotation  time.Time
	log           *slog.Logger
}

// LoggerOptions configures the journal.
type LoggerOptions struct {
	Path          string
	RetentionDays int
	Enabled       bool
	Logger        *slog.Logger
}

// DefaultOptions returns the default journal options.
func DefaultOptions() LoggerOptions {
	return LoggerOptions{
		Path:          ExpandPath(DefaultLogPath),
		RetentionDays: DefaultRetentionDays,
		Enabled:       true,
	}
}

// NewLogger opens the journal for appending.
func NewLogger(opts LoggerOptions) (*Logger, error) {
	if opts.Path == "" {
		opts.Path = ExpandPath(DefaultLogPath)
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &Logger{
		path:          ExpandPath(opts.Path),
		retentionDays: opts.RetentionDays,
		enabled:       opts.Enabled,
		lastRotation:  time.Now(),
		log:           opts.Logger.With("component", "journal"),
	}
	if !l.enabled {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	l.file = f
	return l, nil
}

// Path returns the journal file path.
func (l *Logger) Path() string { return l.path }

// Log appends e.
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.file == nil {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	l.eventCount++
	if l.eventCount%RotationCheckInterval == 0 {
		go l.maybeRotate()
	}
	return nil
}

// Close closes the journal file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) maybeRotate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastRotation) < 24*time.Hour {
		return
	}
	l.lastRotation = time.Now()
	if err := l.rotateOldEntries(time.Now().AddDate(0, 0, -l.retentionDays)); err != nil {
		l.log.Warn("journal rotation failed", "path", l.path, "error", err)
	}
}

// rotateOldEntries rewrites the journal without entries older than
// cutoff. Malformed lines are kept. Caller holds l.mu.
func (l *Logger) rotateOldEntries(cutoff time.Time) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(l.path), "journal-rotate-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	src, err := os.Open(l.path)
	if err != nil {
		tmpFile.Close()
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening journal: %w", err)
	}
	defer src.Close()

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	writer := bufio.NewWriter(tmpFile)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err == nil && !e.Timestamp.After(cutoff) {
			continue
		}
		writer.Write(line)
		writer.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("scanning journal: %w", err)
	}
	if err := writer.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		if f, openErr := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); openErr == nil {
			l.file = f
		}
		return fmt.Errorf("renaming temp file: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopening journal: %w", err)
	}
	l.file = f
	return nil
}

// ReadRecent returns up to n of the newest well-formed events in the
// journal at path, oldest first. A missing file yields no events.
func ReadRecent(path string, n int) ([]Event, error) {
	f, err := os.Open(ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	return out, scanner.Err()
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
