package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/alert"
	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
	"PerpCrank/internal/relayer"
)

// CompletionLedger is the slice of the idempotency store settlement needs.
// Satisfied by persistence.SettlementLedger.
type CompletionLedger interface {
	IsCompleted(ctx context.Context, key string) (bool, error)
	MarkCompleted(ctx context.Context, key string, long, short chain.Address) error
}

// State of the settlement saga for one pair.
type State int

const (
	StatePending State = iota
	StateInitiated
	StateLeg1Executing
	StateLeg1Recorded
	StateLeg2Executing
	StateFinalized
	StateRollingBack
	StateRolledBack
	StateManualIntervention
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInitiated:
		return "initiated"
	case StateLeg1Executing:
		return "leg1_executing"
	case StateLeg1Recorded:
		return "leg1_recorded"
	case StateLeg2Executing:
		return "leg2_executing"
	case StateFinalized:
		return "finalized"
	case StateRollingBack:
		return "rolling_back"
	case StateRolledBack:
		return "rolled_back"
	case StateManualIntervention:
		return "manual_intervention"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Saga drives a matched pair through the two-leg settlement. This is a saga
// rather than a two-phase commit: the relayer has no atomic multi-leg
// primitive, so leg 1 can succeed while leg 2 fails, and the executor owns
// the compensating reverse transfer for that case.
type Saga struct {
	chain    chain.Client
	relayer  relayer.Client
	builder  *Builder
	ledger   CompletionLedger
	rollback *RollbackQueue
	alerts   *alert.Manager
	metrics  *observability.Metrics
	backoff  crank.Backoff
	log      zerolog.Logger
}

func NewSaga(
	chainClient chain.Client,
	relayerClient relayer.Client,
	builder *Builder,
	ledger CompletionLedger,
	rollback *RollbackQueue,
	alerts *alert.Manager,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Saga {
	return &Saga{
		chain:    chainClient,
		relayer:  relayerClient,
		builder:  builder,
		ledger:   ledger,
		rollback: rollback,
		alerts:   alerts,
		metrics:  metrics,
		backoff:  crank.DefaultBackoff,
		log:      log,
	}
}

// Execute runs the saga for one pair. The returned state is the terminal
// state reached; a non-nil error means the work item failed and the caller
// applies a cooldown. The idempotency ledger is written only on Finalized.
func (s *Saga) Execute(ctx context.Context, p Pair) (State, error) {
	key := p.SettlementKey()
	log := s.log.With().Str("settlement", key).Logger()
	s.metrics.SagaStarted.Inc()

	// Pending → Initiated: reserve both legs on-ledger. Nothing external
	// has happened yet, so failure here needs no compensation.
	if err := s.submit(ctx, log, "settle_intent", s.builder.SettleIntent(p)); err != nil {
		s.metrics.SagaFailed.WithLabelValues(StatePending.String()).Inc()
		return StateFailed, fmt.Errorf("settle intent: %w", err)
	}

	intent, err := s.fetchIntent(ctx, p)
	if err != nil {
		s.metrics.SagaFailed.WithLabelValues(StateInitiated.String()).Inc()
		return StateFailed, fmt.Errorf("fetch intent: %w", err)
	}

	baseLeg := relayer.TransferRequest{
		Sender:    p.Short.Owner,
		Recipient: p.Long.Owner,
		Amount:    intent.BaseAmount,
		Asset:     intent.BaseAsset,
		Kind:      relayer.KindBase,
	}
	quoteLeg := relayer.TransferRequest{
		Sender:    p.Long.Owner,
		Recipient: p.Short.Owner,
		Amount:    intent.QuoteAmount,
		Asset:     intent.QuoteAsset,
		Kind:      relayer.KindQuote,
	}

	// Initiated → Leg1Executing: first transfer. Relayer failure here moves
	// no value, so the intent is aborted and the item simply fails.
	leg1Start := time.Now()
	res1, err := s.relayer.ExecuteTransfer(ctx, baseLeg)
	s.metrics.SagaStepDur.WithLabelValues("leg1_transfer").Observe(time.Since(leg1Start).Seconds())
	if err != nil {
		s.metrics.RelayerCalls.WithLabelValues(string(relayer.KindBase), "error").Inc()
		s.abortBestEffort(ctx, log, p)
		s.metrics.SagaFailed.WithLabelValues(StateLeg1Executing.String()).Inc()
		return StateFailed, fmt.Errorf("base leg transfer: %w", err)
	}
	s.metrics.RelayerCalls.WithLabelValues(string(relayer.KindBase), "ok").Inc()
	log.Info().Str("transfer_id", res1.TransferID).Msg("base leg executed")

	// Leg1Executing → Leg1Recorded. Value has moved: from here on any
	// failure must unwind leg 1.
	if err := s.submit(ctx, log, "record_transfer", s.builder.RecordTransfer(p, relayer.KindBase, res1.TransferID)); err != nil {
		log.Error().Err(err).Msg("recording base leg failed after transfer, compensating")
		state := s.compensate(ctx, log, p, baseLeg.Reverse())
		s.metrics.SagaFailed.WithLabelValues(StateLeg1Executing.String()).Inc()
		return state, fmt.Errorf("record base leg: %w", err)
	}

	// Leg1Recorded → Leg2Executing: second transfer. This is the partial-
	// failure case the saga exists for.
	leg2Start := time.Now()
	res2, err := s.relayer.ExecuteTransfer(ctx, quoteLeg)
	s.metrics.SagaStepDur.WithLabelValues("leg2_transfer").Observe(time.Since(leg2Start).Seconds())
	if err != nil {
		s.metrics.RelayerCalls.WithLabelValues(string(relayer.KindQuote), "error").Inc()
		log.Error().Err(err).Msg("quote leg failed after base leg moved value, compensating")
		state := s.compensate(ctx, log, p, baseLeg.Reverse())
		s.metrics.SagaFailed.WithLabelValues(StateLeg2Executing.String()).Inc()
		return state, fmt.Errorf("quote leg transfer: %w", err)
	}
	s.metrics.RelayerCalls.WithLabelValues(string(relayer.KindQuote), "ok").Inc()
	log.Info().Str("transfer_id", res2.TransferID).Msg("quote leg executed")

	// Leg2 success → Finalized: record leg 2 and finalize. Both legs have
	// moved symmetrically, so failure here is a plain failure: the item
	// cools down and the idempotent intent path re-runs next cycle.
	if err := s.submit(ctx, log, "record_transfer", s.builder.RecordTransfer(p, relayer.KindQuote, res2.TransferID)); err != nil {
		s.metrics.SagaFailed.WithLabelValues(StateLeg2Executing.String()).Inc()
		return StateFailed, fmt.Errorf("record quote leg: %w", err)
	}
	if err := s.submit(ctx, log, "finalize_settlement", s.builder.Finalize(p)); err != nil {
		s.metrics.SagaFailed.WithLabelValues(StateLeg2Executing.String()).Inc()
		return StateFailed, fmt.Errorf("finalize: %w", err)
	}

	// A confirmed finalize is not proof: confirmation and state visibility
	// can race, and verification failures on confirmed transactions have
	// been observed. Re-read the records and require terminal state before
	// the idempotency ledger is written.
	if err := s.verifySettled(ctx, p); err != nil {
		s.metrics.SagaFailed.WithLabelValues("verification").Inc()
		return StateFailed, fmt.Errorf("post-finalize verification: %w", err)
	}

	if err := s.ledger.MarkCompleted(ctx, key, p.Long.Address, p.Short.Address); err != nil {
		// The transition is complete on-ledger; the bookkeeping write is
		// retried next cycle and short-circuits on the verified state.
		s.metrics.SagaFailed.WithLabelValues(StateFinalized.String()).Inc()
		return StateFailed, fmt.Errorf("mark completed: %w", err)
	}

	s.metrics.SagaFinalized.Inc()
	log.Info().Msg("settlement finalized")
	return StateFinalized, nil
}

func (s *Saga) submit(ctx context.Context, log zerolog.Logger, op string, instr chain.Instruction) error {
	start := time.Now()
	err := crank.Retry(ctx, log, s.backoff, op, func(ctx context.Context) error {
		_, submitErr := s.chain.SubmitTransaction(ctx, []chain.Instruction{instr}, chain.CommitmentConfirmed)
		if submitErr != nil {
			s.metrics.TxRetries.WithLabelValues(op).Inc()
		}
		return submitErr
	})
	s.metrics.SagaStepDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.TxSubmitted.WithLabelValues(op, "error").Inc()
		return err
	}
	s.metrics.TxSubmitted.WithLabelValues(op, "ok").Inc()
	return nil
}

func (s *Saga) fetchIntent(ctx context.Context, p Pair) (*record.SettlementIntent, error) {
	addr := s.builder.IntentAddress(p.Token())
	var intent *record.SettlementIntent
	err := crank.Retry(ctx, s.log, s.backoff, "fetch_intent", func(ctx context.Context) error {
		acct, err := s.chain.FetchAccount(ctx, addr)
		if err != nil {
			return err
		}
		decoded, err := record.DecodeSettlementIntent(acct.Address, acct.Data)
		if err != nil {
			return err
		}
		intent = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// verifySettled re-reads the affected accounts and requires the terminal
// states finalize should have produced.
func (s *Saga) verifySettled(ctx context.Context, p Pair) error {
	intent, err := s.fetchIntent(ctx, p)
	if err != nil {
		return fmt.Errorf("re-read intent: %w", err)
	}
	if intent.State != record.IntentSettled {
		return fmt.Errorf("intent state is %s, want %s", intent.State, record.IntentSettled)
	}

	for _, orderAddr := range []chain.Address{p.Long.Address, p.Short.Address} {
		acct, err := s.chain.FetchAccount(ctx, orderAddr)
		if err != nil {
			// A closed order account is a valid terminal outcome: the
			// program reclaims settled orders.
			if errors.Is(err, chain.ErrAccountNotFound) {
				continue
			}
			return fmt.Errorf("re-read order %s: %w", orderAddr.Short(), err)
		}
		o, err := record.DecodeOrder(acct.Address, acct.Data)
		if err != nil {
			return fmt.Errorf("re-decode order %s: %w", orderAddr.Short(), err)
		}
		if o.Status != record.StatusClosed {
			return fmt.Errorf("order %s status is %s, want %s", orderAddr.Short(), o.Status, record.StatusClosed)
		}
	}

	return nil
}

func (s *Saga) abortBestEffort(ctx context.Context, log zerolog.Logger, p Pair) {
	if err := s.submit(ctx, log, "abort_settlement", s.builder.Abort(p)); err != nil {
		log.Warn().Err(err).Msg("abort after failed leg did not land, intent stays pending")
	}
}

// compensate unwinds leg 1 after a later failure: mark the intent
// rolling-back on-ledger and execute the reverse transfer. On compensation
// success the pair rests rolled-back with a warning-severity audit alert;
// on failure the reverse transfer goes to the rollback queue for bounded
// retry and the alert is critical.
func (s *Saga) compensate(ctx context.Context, log zerolog.Logger, p Pair, reverse relayer.TransferRequest) State {
	key := p.SettlementKey()
	s.abortBestEffort(ctx, log, p)

	_, err := s.relayer.ExecuteTransfer(ctx, reverse)
	if err == nil {
		s.metrics.SagaRolledBack.Inc()
		s.alerts.Send(alert.SeverityWarning,
			"settlement rolled back",
			"base leg reversed after quote leg failure",
			map[string]string{
				"settlement": key,
				"market":     p.Market().Short(),
			},
			"rollback-"+key,
		)
		log.Warn().Msg("compensation transfer succeeded")
		return StateRolledBack
	}

	s.alerts.Send(alert.SeverityCritical,
		"settlement compensation failed",
		err.Error(),
		map[string]string{
			"settlement": key,
			"market":     p.Market().Short(),
		},
		"rollback-failed-"+key,
	)
	log.Error().Err(err).Msg("compensation transfer failed, queued for retry")

	s.rollback.Enqueue(RollbackItem{
		SettlementKey: key,
		Transfer:      reverse,
		LongOrder:     p.Long.Address,
		ShortOrder:    p.Short.Address,
	})
	return StateRollingBack
}
