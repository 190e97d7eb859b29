package alert

import (
	"errors"
	"testing"
	"time"
)

type recordSink struct {
	alerts []Alert
	err    error
}

func (s *recordSink) Send(a Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestManagerDeliversToAllSinks(t *testing.T) {
	a, b := &recordSink{}, &recordSink{}
	m := NewManager(time.Minute, a, b)

	m.Send(SeverityError, "title", "message", map[string]string{"key": "val"}, "")

	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Fatalf("sinks got %d/%d alerts, want 1/1", len(a.alerts), len(b.alerts))
	}
	got := a.alerts[0]
	if got.Severity != SeverityError || got.Title != "title" || got.Context["key"] != "val" {
		t.Errorf("alert content mangled: %+v", got)
	}
	if got.At.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestManagerDedupesWithinWindow(t *testing.T) {
	sink := &recordSink{}
	m := NewManager(time.Minute, sink)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Send(SeverityWarning, "t", "m", nil, "dup")
	m.Send(SeverityWarning, "t", "m", nil, "dup")
	if len(sink.alerts) != 1 {
		t.Fatalf("got %d alerts, want 1 (duplicate suppressed)", len(sink.alerts))
	}

	// Distinct keys are never suppressed by each other.
	m.Send(SeverityWarning, "t", "m", nil, "other")
	if len(sink.alerts) != 2 {
		t.Fatalf("distinct key suppressed: %d alerts", len(sink.alerts))
	}

	// After the window the same key passes again.
	now = now.Add(time.Minute + time.Second)
	m.Send(SeverityWarning, "t", "m", nil, "dup")
	if len(sink.alerts) != 3 {
		t.Fatalf("key still suppressed after the window: %d alerts", len(sink.alerts))
	}
}

func TestManagerEmptyKeyNeverDeduped(t *testing.T) {
	sink := &recordSink{}
	m := NewManager(time.Minute, sink)

	m.Send(SeverityInfo, "t", "m", nil, "")
	m.Send(SeverityInfo, "t", "m", nil, "")
	if len(sink.alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(sink.alerts))
	}
}

func TestManagerSwallowsSinkErrors(t *testing.T) {
	broken := &recordSink{err: errors.New("nats down")}
	healthy := &recordSink{}
	m := NewManager(time.Minute, broken, healthy)

	// Must not panic, and the healthy sink still receives the alert.
	m.Send(SeverityCritical, "t", "m", nil, "k")
	if len(healthy.alerts) != 1 {
		t.Fatal("healthy sink skipped after a failing sink")
	}
}

func TestManagerPrunesStaleKeys(t *testing.T) {
	sink := &recordSink{}
	m := NewManager(time.Minute, sink)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Send(SeverityInfo, "t", "m", nil, "old")
	now = now.Add(3 * time.Minute)
	m.Send(SeverityInfo, "t", "m", nil, "fresh")

	m.mu.Lock()
	_, oldKept := m.lastSent["old"]
	m.mu.Unlock()
	if oldKept {
		t.Error("stale dedupe key not pruned")
	}
}
