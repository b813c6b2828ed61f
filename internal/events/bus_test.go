package events

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewBus_DefaultSize(t *testing.T) {
	t.Parallel()

	if got := NewBus(0).historySize; got != 100 {
		t.Errorf("expected default history size 100, got %d", got)
	}
	if got := NewBus(5).historySize; got != 5 {
		t.Errorf("expected history size 5, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(10)
	unsub := bus.Subscribe(TypeDispatch, func(Event) {})
	other := bus.Subscribe(TypeDispatch, func(Event) {})
	if bus.SubscriberCount(TypeDispatch) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", bus.SubscriberCount(TypeDispatch))
	}
	unsub()
	unsub()
	if bus.SubscriberCount(TypeDispatch) != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe, got %d", bus.SubscriberCount(TypeDispatch))
	}
	other()
	if bus.SubscriberCount(TypeDispatch) != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount(TypeDispatch))
	}
}

func TestBus_PublishSync(t *testing.T) {
	t.Parallel()

	bus := NewBus(10)
	var typed, all atomic.Int32
	bus.Subscribe(TypeBreakerTrip, func(Event) { typed.Add(1) })
	bus.SubscribeAll(func(Event) { all.Add(1) })

	bus.PublishSync(New(TypeBreakerTrip, "smoke", "", "tripped"))
	bus.PublishSync(New(TypeDispatch, "smoke", "a:0.0", "ok"))

	if typed.Load() != 1 {
		t.Errorf("typed handler calls = %d, want 1", typed.Load())
	}
	if all.Load() != 2 {
		t.Errorf("wildcard handler calls = %d, want 2", all.Load())
	}
}

func TestBus_PublishAsync(t *testing.T) {
	t.Parallel()

	bus := NewBus(10)
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(TypePanic, func(e Event) {
		defer wg.Done()
		if e.Message != "engaged" {
			t.Errorf("message = %q", e.Message)
		}
	})
	bus.Publish(New(TypePanic, "", "", "engaged"))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestBus_History(t *testing.T) {
	t.Parallel()

	bus := NewBus(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		bus.PublishSync(New(TypeRefresh, "", "", msg))
	}

	got := bus.History(0)
	if len(got) != 3 {
		t.Fatalf("history len = %d, want 3", len(got))
	}
	want := []string{"d", "c", "b"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, e.Message, want[i])
		}
	}
	if got := bus.History(1); len(got) != 1 || got[0].Message != "d" {
		t.Errorf("History(1) = %+v", got)
	}
}

func TestBus_Stream(t *testing.T) {
	t.Parallel()

	bus := NewBus(10)
	var buf bytes.Buffer
	unsub := bus.Stream(&buf)
	bus.PublishSync(New(TypeDispatch, "autopilot/run", "a:0.0", "").With("ok", true))
	unsub()
	bus.PublishSync(New(TypeDispatch, "smoke", "", ""))

	var e Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatalf("stream output not a single JSON line: %v (%q)", err, buf.String())
	}
	if e.Route != "autopilot/run" || e.Data["ok"] != true {
		t.Errorf("streamed event = %+v", e)
	}
}

func TestEvent_WithCopies(t *testing.T) {
	t.Parallel()

	base := New(TypeLaneChange, "", "a:0.0", "").With("from", "primary")
	next := base.With("to", "quarantine")
	if _, ok := base.Data["to"]; ok {
		t.Error("With mutated the receiver")
	}
	if next.Data["from"] != "primary" || next.Data["to"] != "quarantine" {
		t.Errorf("next.Data = %v", next.Data)
	}
}

func TestToMap(t *testing.T) {
	t.Parallel()

	m := ToMap(DispatchData{OK: true, Status: 200, Strategy: "primary", Fluency: 80})
	if m["ok"] != true || m["status"] != 200 || m["strategy"] != "primary" || m["fluency"] != 80 {
		t.Errorf("ToMap = %v", m)
	}
	if _, ok := m["summary"]; ok {
		t.Error("empty summary should be omitted")
	}
	if ToMap(42) != nil {
		t.Error("unknown type should map to nil")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus(50)
	var count atomic.Int32
	bus.SubscribeAll(func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.PublishSync(New(TypeRefresh, "", "", ""))
		}()
	}
	wg.Wait()
	if count.Load() != 20 {
		t.Errorf("handler calls = %d, want 20", count.Load())
	}
	if n := len(bus.History(0)); n != 20 {
		t.Errorf("history = %d, want 20", n)
	}
}
