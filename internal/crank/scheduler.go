package crank

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc runs one poll cycle. A returned error is logged; it never stops
// the scheduler.
type CycleFunc func(ctx context.Context) error

// Scheduler drives a crank's fixed-interval poll loop. Cycles run
// synchronously inside the loop goroutine, so a cycle can never overlap the
// previous one. An optional nudge channel (fed by the ledger event tap)
// triggers an immediate cycle between ticks.
type Scheduler struct {
	name     string
	interval time.Duration
	log      zerolog.Logger
	nudge    <-chan struct{}

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewScheduler(name string, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		log:      log.With().Str("crank", name).Logger(),
	}
}

// WithNudge attaches an early-wake channel. Must be called before Start.
func (s *Scheduler) WithNudge(nudge <-chan struct{}) *Scheduler {
	s.nudge = nudge
	return s
}

// Start launches the poll loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context, cycle CycleFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn().Msg("scheduler already started")
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx, cycle)
	s.log.Info().Dur("interval", s.interval).Msg("crank started")
}

func (s *Scheduler) run(ctx context.Context, cycle CycleFunc) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("crank stopping: context cancelled")
			return
		case <-s.stop:
			s.log.Info().Msg("crank stopping")
			return
		case <-ticker.C:
		case <-s.nudge:
			s.log.Debug().Msg("early cycle: event tap nudge")
		}

		start := time.Now()
		if err := cycle(ctx); err != nil {
			s.log.Error().Err(err).Msg("poll cycle failed")
		} else {
			s.log.Debug().Dur("elapsed", time.Since(start)).Msg("poll cycle complete")
		}
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish. In-flight
// external calls are not aborted; new cycles cease. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}
