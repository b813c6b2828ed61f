package events

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(LoggerOptions{Path: filepath.Join(t.TempDir(), "j.jsonl"), Enabled: false})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.file != nil {
		t.Error("Expected file to be nil when disabled")
	}
	if err := logger.Log(New(TypeError, "", "", "x")); err != nil {
		t.Errorf("Log on disabled logger should not error: %v", err)
	}
}

func TestLogger_LogAndReadRecent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	logger, err := NewLogger(LoggerOptions{Path: logPath, Enabled: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	for _, msg := range []string{"one", "two", "three"} {
		if err := logger.Log(New(TypeDispatch, "smoke", "", msg)); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadRecent(logPath, 2)
	if err != nil {
		t.Fatalf("ReadRecent failed: %v", err)
	}
	if len(got) != 2 || got[0].Message != "two" || got[1].Message != "three" {
		t.Errorf("ReadRecent = %+v", got)
	}

	all, _ := ReadRecent(logPath, 0)
	if len(all) != 3 {
		t.Errorf("ReadRecent(0) = %d events, want 3", len(all))
	}
}

func TestReadRecent_Missing(t *testing.T) {
	got, err := ReadRecent(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	if err != nil || got != nil {
		t.Errorf("ReadRecent(missing) = %v, %v", got, err)
	}
}

func TestLogger_RotateOldEntries(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "journal.jsonl")
	logger, err := NewLogger(LoggerOptions{Path: logPath, Enabled: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	old := New(TypeDispatch, "", "", "old")
	old.Timestamp = time.Now().AddDate(0, 0, -30)
	fresh := New(TypeDispatch, "", "", "fresh")
	logger.Log(old)
	logger.Log(fresh)
	logger.file.WriteString("not json\n")

	logger.mu.Lock()
	err = logger.rotateOldEntries(time.Now().AddDate(0, 0, -7))
	logger.mu.Unlock()
	if err != nil {
		t.Fatalf("rotateOldEntries failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if strings.Contains(content, `"old"`) {
		t.Error("old entry should be dropped")
	}
	if !strings.Contains(content, `"fresh"`) || !strings.Contains(content, "not json") {
		t.Errorf("fresh and malformed lines should be kept: %q", content)
	}

	if err := logger.Log(New(TypeDispatch, "", "", "after")); err != nil {
		t.Fatalf("Log after rotation failed: %v", err)
	}
}

func TestBus_Journal(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "journal.jsonl")
	logger, err := NewLogger(LoggerOptions{Path: logPath, Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	bus := NewBus(10)
	unsub := bus.Journal(logger)
	bus.PublishSync(New(TypePanic, "", "", "engaged"))
	unsub()
	logger.Close()

	got, _ := ReadRecent(logPath, 0)
	if len(got) != 1 || got[0].Type != TypePanic {
		t.Errorf("journal = %+v", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %q", got)
	}
}
