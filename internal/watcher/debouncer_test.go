package watcher

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNewDebouncer(t *testing.T) {
	t.Run("default duration", func(t *testing.T) {
		d := NewDebouncer(0)
		if d.Duration() != DefaultDebounceDuration {
			t.Errorf("Duration() = %v, want %v", d.Duration(), DefaultDebounceDuration)
		}
	})

	t.Run("custom duration", func(t *testing.T) {
		duration := 400 * time.Millisecond
		d := NewDebouncer(duration)
		if d.Duration() != duration {
			t.Errorf("Duration() = %v, want %v", d.Duration(), duration)
		}
	})
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var callCount atomic.Int32
	var lastValue atomic.Int32
	d := NewDebouncer(80 * time.Millisecond)

	for i := 1; i <= 5; i++ {
		v := int32(i)
		d.Trigger(func() {
			callCount.Add(1)
			lastValue.Store(v)
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if got := callCount.Load(); got != 1 {
		t.Errorf("callback called %d times, want 1", got)
	}
	if got := lastValue.Load(); got != 5 {
		t.Errorf("last scheduled callback should win, got value %d", got)
	}
}

func TestDebouncerSeparateWindows(t *testing.T) {
	var callCount atomic.Int32
	d := NewDebouncer(30 * time.Millisecond)

	d.Trigger(func() { callCount.Add(1) })
	time.Sleep(100 * time.Millisecond)
	d.Trigger(func() { callCount.Add(1) })
	time.Sleep(100 * time.Millisecond)

	if got := callCount.Load(); got != 2 {
		t.Errorf("callback called %d times, want 2", got)
	}
}

func TestDebouncerCancel(t *testing.T) {
	var callCount atomic.Int32
	d := NewDebouncer(100 * time.Millisecond)

	d.Trigger(func() { callCount.Add(1) })
	if !d.Pending() {
		t.Fatal("expected pending callback after Trigger")
	}

	time.Sleep(20 * time.Millisecond)
	d.Cancel()
	if d.Pending() {
		t.Error("expected no pending callback after Cancel")
	}

	time.Sleep(150 * time.Millisecond)

	if got := callCount.Load(); got != 0 {
		t.Errorf("callback called %d times after Cancel(), want 0", got)
	}
}

func TestDebouncerCancelNilTimer(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	d.Cancel()
	d.Flush()
}

func TestDebouncerFlush(t *testing.T) {
	var callCount atomic.Int32
	d := NewDebouncer(time.Hour)

	d.Trigger(func() { callCount.Add(1) })
	d.Flush()

	if got := callCount.Load(); got != 1 {
		t.Fatalf("Flush ran callback %d times, want 1", got)
	}
	if d.Pending() {
		t.Error("expected nothing pending after Flush")
	}

	d.Flush()
	if got := callCount.Load(); got != 1 {
		t.Errorf("second Flush should be a no-op, got %d calls", got)
	}
}

func TestDebouncerReset(t *testing.T) {
	var callCount atomic.Int32
	d := NewDebouncer(100 * time.Millisecond)

	d.Trigger(func() { callCount.Add(1) })
	time.Sleep(20 * time.Millisecond)
	d.Reset(50 * time.Millisecond)

	if d.Duration() != 50*time.Millisecond {
		t.Errorf("Duration() = %v after Reset, want 50ms", d.Duration())
	}

	time.Sleep(200 * time.Millisecond)

	if got := callCount.Load(); got != 0 {
		t.Errorf("callback called %d times after Reset(), want 0", got)
	}
}
