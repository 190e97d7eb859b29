package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// LogSink writes alerts to the structured log at the matching level.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(a Alert) error {
	var evt *zerolog.Event
	switch a.Severity {
	case SeverityCritical, SeverityError:
		evt = s.log.Error()
	case SeverityWarning:
		evt = s.log.Warn()
	default:
		evt = s.log.Info()
	}

	evt = evt.Str("severity", string(a.Severity)).Str("title", a.Title)
	for k, v := range a.Context {
		evt = evt.Str(k, v)
	}
	evt.Msg(a.Message)
	return nil
}

// NATSSink publishes alerts to a NATS subject per severity, where the
// on-call pipeline picks them up.
type NATSSink struct {
	nc            *nats.Conn
	subjectPrefix string
}

func NewNATSSink(nc *nats.Conn, subjectPrefix string) *NATSSink {
	return &NATSSink{nc: nc, subjectPrefix: subjectPrefix}
}

type alertPayload struct {
	Severity  string            `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	DedupeKey string            `json:"dedupe_key,omitempty"`
	At        time.Time         `json:"at"`
}

func (s *NATSSink) Send(a Alert) error {
	data, err := json.Marshal(alertPayload{
		Severity:  string(a.Severity),
		Title:     a.Title,
		Message:   a.Message,
		Context:   a.Context,
		DedupeKey: a.DedupeKey,
		At:        a.At,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, a.Severity)
	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
