package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, ch <-chan []Event, timeout time.Duration) []Event {
	t.Helper()
	select {
	case evs := <-ch:
		return evs
	case <-time.After(timeout):
		t.Fatal("timed out waiting for events")
		return nil
	}
}

func TestFileWatcherDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ch := make(chan []Event, 4)
	w, err := New(func(evs []Event) { ch <- evs }, WithDebounceDuration(30*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := os.WriteFile(path, []byte("a = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	evs := waitForEvents(t, ch, 2*time.Second)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(evs), evs)
	}
	abs, _ := filepath.Abs(path)
	if evs[0].Path != abs {
		t.Errorf("event path = %q, want %q", evs[0].Path, abs)
	}
	if evs[0].Op&Changed == 0 {
		t.Errorf("event op = %v, want Changed", evs[0].Op)
	}
}

func TestFileWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.toml")
	other := filepath.Join(dir, "other.toml")

	var mu sync.Mutex
	var got []Event
	w, err := New(func(evs []Event) {
		mu.Lock()
		got = append(got, evs...)
		mu.Unlock()
	}, WithDebounceDuration(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := os.WriteFile(other, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Errorf("expected no events for sibling file, got %+v", got)
	}
}

func TestFileWatcherRenameOverSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	ch := make(chan []Event, 4)
	w, err := New(func(evs []Event) { ch <- evs }, WithDebounceDuration(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tmp := filepath.Join(dir, ".config.toml.swp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	evs := waitForEvents(t, ch, 2*time.Second)
	if len(evs) != 1 || evs[0].Op != Changed {
		t.Errorf("expected single Changed event, got %+v", evs)
	}
}

func TestFileWatcherClosed(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.Add(filepath.Join(t.TempDir(), "x")); err != ErrClosed {
		t.Errorf("Add after Close = %v, want ErrClosed", err)
	}
}

func TestFileWatcherAddMissingDir(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Join(t.TempDir(), "nope", "config.toml")); err == nil {
		t.Error("expected error for missing parent directory")
	}
}
