package alert

import (
	"sync"
	"time"
)

// Severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Alert is one operator-facing notification.
type Alert struct {
	Severity Severity
	Title    string
	Message  string
	Context  map[string]string

	// DedupeKey suppresses identical alerts inside the manager's rolling
	// window. Empty means never deduplicated.
	DedupeKey string

	At time.Time
}

// Sink delivers alerts somewhere an operator will see them.
type Sink interface {
	Send(a Alert) error
}

// Manager fans alerts out to its sinks, deduplicating by key within a
// rolling window. Constructed once in main and passed to every crank; there
// is no package-level singleton.
type Manager struct {
	sinks  []Sink
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewManager(window time.Duration, sinks ...Sink) *Manager {
	return &Manager{
		sinks:    sinks,
		window:   window,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Send delivers the alert to all sinks unless an identical dedupe key was
// sent within the window. Sink failures are swallowed: alerting must never
// fail a work item.
func (m *Manager) Send(severity Severity, title, message string, context map[string]string, dedupeKey string) {
	now := m.now()

	if dedupeKey != "" {
		m.mu.Lock()
		if last, ok := m.lastSent[dedupeKey]; ok && now.Sub(last) < m.window {
			m.mu.Unlock()
			return
		}
		m.lastSent[dedupeKey] = now

		// Bound the map: drop stale keys while we hold the lock.
		cutoff := now.Add(-2 * m.window)
		for key, last := range m.lastSent {
			if last.Before(cutoff) {
				delete(m.lastSent, key)
			}
		}
		m.mu.Unlock()
	}

	a := Alert{
		Severity:  severity,
		Title:     title,
		Message:   message,
		Context:   context,
		DedupeKey: dedupeKey,
		At:        now,
	}
	for _, sink := range m.sinks {
		_ = sink.Send(a)
	}
}
