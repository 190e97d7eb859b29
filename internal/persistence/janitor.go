package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
)

// Cleaner ages out completed entries older than the cutoff.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor ages out idempotency entries past the retention window. Retention
// cleanup runs on its own slow schedule, independent of the settlement
// crank.
type Janitor struct {
	ledger    Cleaner
	retention time.Duration
	scheduler *crank.Scheduler
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewJanitor(ledger Cleaner, retention, interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Janitor {
	return &Janitor{
		ledger:    ledger,
		retention: retention,
		scheduler: crank.NewScheduler("idempotency-janitor", interval, log),
		metrics:   metrics,
		log:       log,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.scheduler.Start(ctx, j.sweep)
}

func (j *Janitor) Stop() {
	j.scheduler.Stop()
}

func (j *Janitor) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-j.retention)
	removed, err := j.ledger.Cleanup(ctx, cutoff)
	if err != nil {
		return err
	}
	j.metrics.LedgerCleanups.Inc()
	j.metrics.LedgerRemoved.Add(float64(removed))
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("idempotency entries aged out")
	}
	return nil
}
