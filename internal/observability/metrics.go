package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the crank orchestrator.
type Metrics struct {
	// --- Poll cycles ---
	PollCycles       *prometheus.CounterVec
	PollCycleErrors  *prometheus.CounterVec
	PollCycleDur     *prometheus.HistogramVec
	RecordsScanned   *prometheus.CounterVec
	RecordsEligible  *prometheus.CounterVec
	DecodeFailures   *prometheus.CounterVec

	// --- Work items ---
	LockContention   *prometheus.CounterVec
	IdempotencySkips *prometheus.CounterVec
	CooldownSkips    *prometheus.CounterVec
	CooldownEntries  *prometheus.GaugeVec

	// --- Saga ---
	SagaStarted       prometheus.Counter
	SagaFinalized     prometheus.Counter
	SagaFailed        *prometheus.CounterVec
	SagaRolledBack    prometheus.Counter
	SagaManualNeeded  prometheus.Counter
	SagaStepDur       *prometheus.HistogramVec
	RollbackQueueLen  prometheus.Gauge
	RollbackRetries   prometheus.Counter

	// --- External calls ---
	TxSubmitted   *prometheus.CounterVec
	TxRetries     *prometheus.CounterVec
	RelayerCalls  *prometheus.CounterVec
	MPCPolls      prometheus.Counter
	MPCPollMisses prometheus.Counter

	// --- Idempotency store ---
	LedgerCleanups prometheus.Counter
	LedgerRemoved  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	cycleBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stepBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		PollCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_poll_cycles_total",
			Help: "Completed poll cycles",
		}, []string{"crank"}),

		PollCycleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_poll_cycle_errors_total",
			Help: "Poll cycles that returned an error",
		}, []string{"crank"}),

		PollCycleDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crank_poll_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle",
			Buckets: cycleBuckets,
		}, []string{"crank"}),

		RecordsScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_records_scanned_total",
			Help: "Accounts returned by ledger scans",
		}, []string{"crank"}),

		RecordsEligible: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_records_eligible_total",
			Help: "Decoded records passing the eligibility filter",
		}, []string{"crank"}),

		DecodeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_decode_failures_total",
			Help: "Malformed account buffers skipped during scans",
		}, []string{"crank"}),

		LockContention: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_lock_contention_total",
			Help: "Work items skipped because the lock was held",
		}, []string{"crank"}),

		IdempotencySkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_idempotency_skips_total",
			Help: "Work items skipped as already completed",
		}, []string{"crank"}),

		CooldownSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_cooldown_skips_total",
			Help: "Work items skipped inside a cooldown window",
		}, []string{"crank"}),

		CooldownEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crank_cooldown_entries",
			Help: "Live cooldown entries",
		}, []string{"crank"}),

		SagaStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_saga_started_total",
			Help: "Settlement sagas started",
		}),

		SagaFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_saga_finalized_total",
			Help: "Settlement sagas driven to Finalized",
		}),

		SagaFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_saga_failed_total",
			Help: "Settlement sagas that failed, by state reached",
		}, []string{"state"}),

		SagaRolledBack: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_saga_rolled_back_total",
			Help: "Sagas compensated successfully",
		}),

		SagaManualNeeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_saga_manual_intervention_total",
			Help: "Sagas escalated to manual intervention",
		}),

		SagaStepDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crank_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps",
			Buckets: stepBuckets,
		}, []string{"step"}),

		RollbackQueueLen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crank_rollback_queue_length",
			Help: "Compensations awaiting retry",
		}),

		RollbackRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_rollback_retries_total",
			Help: "Compensation retry attempts",
		}),

		TxSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_tx_submitted_total",
			Help: "Ledger transactions submitted, by operation and outcome",
		}, []string{"op", "outcome"}),

		TxRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_tx_retries_total",
			Help: "Transient transaction retries",
		}, []string{"op"}),

		RelayerCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crank_relayer_calls_total",
			Help: "Relayer transfer calls, by kind and outcome",
		}, []string{"kind", "outcome"}),

		MPCPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_mpc_polls_total",
			Help: "MPC result store polls",
		}),

		MPCPollMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_mpc_poll_misses_total",
			Help: "MPC polls exhausted without a result",
		}),

		LedgerCleanups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_idempotency_cleanups_total",
			Help: "Retention sweeps executed",
		}),

		LedgerRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crank_idempotency_removed_total",
			Help: "Idempotency entries aged out",
		}),
	}
}
