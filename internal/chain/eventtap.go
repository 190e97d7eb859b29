package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ConnectNATS dials the NATS server with unbounded reconnects and returns
// both the raw connection and a JetStream handle.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EventTap subscribes to the ledger event-log subjects relayed over NATS
// JetStream and nudges interested cranks so they can scan immediately
// instead of waiting out a full poll interval. The tap is advisory: a missed
// nudge costs one poll interval of latency, nothing more.
type EventTap struct {
	js        jetstream.JetStream
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// TapConfig binds one event-log subject to a nudge channel.
type TapConfig struct {
	Subject      string
	StreamName   string
	ConsumerName string
	Nudge        chan<- struct{}
}

func NewEventTap(js jetstream.JetStream, log zerolog.Logger) *EventTap {
	return &EventTap{js: js, log: log}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Messages are acked immediately: the tap carries no state the cranks
// depend on, the authoritative state is always re-read from the ledger.
func (t *EventTap) Subscribe(ctx context.Context, taps []TapConfig) error {
	for _, cfg := range taps {
		nudge := cfg.Nudge
		consumer, err := t.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    1,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			msg.Ack()
			select {
			case nudge <- struct{}{}:
			default:
				// A nudge is already pending, the next cycle covers this one.
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		t.consumers = append(t.consumers, cc)
		t.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("event tap subscribed")
	}

	return nil
}

// Stop drains all consumers. Safe to call more than once.
func (t *EventTap) Stop() {
	for _, cc := range t.consumers {
		cc.Stop()
	}
	t.consumers = nil
}

// EnsureEventStream creates the ledger event stream if it does not exist.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "DEX_EVENTS",
		Subjects:  []string{"dex.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure event stream: %w", err)
	}
	return nil
}
