package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"PerpCrank/internal/observability"
)

var testMetrics = observability.NewMetrics()

type fakeCleaner struct {
	removed int64
	err     error
	cutoffs []time.Time
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, olderThan)
	return f.removed, f.err
}

func TestJanitorSweepRecordsResults(t *testing.T) {
	cleaner := &fakeCleaner{removed: 3}
	j := NewJanitor(cleaner, 24*time.Hour, time.Hour, testMetrics, zerolog.Nop())

	sweepsBefore := testutil.ToFloat64(testMetrics.LedgerCleanups)
	removedBefore := testutil.ToFloat64(testMetrics.LedgerRemoved)

	if err := j.sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(testMetrics.LedgerCleanups) - sweepsBefore; got != 1 {
		t.Errorf("cleanup counter moved by %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.LedgerRemoved) - removedBefore; got != 3 {
		t.Errorf("removed counter moved by %v, want 3", got)
	}

	if len(cleaner.cutoffs) != 1 {
		t.Fatalf("cleanup called %d times, want 1", len(cleaner.cutoffs))
	}
	wantCutoff := time.Now().Add(-24 * time.Hour)
	if diff := cleaner.cutoffs[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff %v not near retention boundary %v", cleaner.cutoffs[0], wantCutoff)
	}
}

func TestJanitorSweepSurfacesErrors(t *testing.T) {
	cleanupErr := errors.New("db gone")
	cleaner := &fakeCleaner{err: cleanupErr}
	j := NewJanitor(cleaner, 24*time.Hour, time.Hour, testMetrics, zerolog.Nop())

	sweepsBefore := testutil.ToFloat64(testMetrics.LedgerCleanups)

	if err := j.sweep(context.Background()); !errors.Is(err, cleanupErr) {
		t.Fatalf("err = %v, want the cleanup error", err)
	}
	if got := testutil.ToFloat64(testMetrics.LedgerCleanups) - sweepsBefore; got != 0 {
		t.Errorf("failed sweep counted as a cleanup (%v)", got)
	}
}
