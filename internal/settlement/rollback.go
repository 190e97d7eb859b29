package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpCrank/internal/alert"
	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
	"PerpCrank/internal/relayer"
)

// RollbackItem is one compensation that failed on first attempt and awaits
// retry.
type RollbackItem struct {
	ID            uuid.UUID
	SettlementKey string
	Transfer      relayer.TransferRequest
	LongOrder     chain.Address
	ShortOrder    chain.Address
	EnqueuedAt    time.Time
	Retries       int
}

// RollbackQueue retries failed compensations on a slower timer than the
// poll loop. Retries are bounded; an item exceeding the bound is removed
// and escalated for manual intervention. The queue is in-memory: losing it
// on a crash is recoverable because the on-ledger intent stays in
// rolling-back state, where operators (and the escalation alert trail) can
// find it.
type RollbackQueue struct {
	chain      chain.Client
	relayer    relayer.Client
	builder    *Builder
	alerts     *alert.Manager
	metrics    *observability.Metrics
	maxRetries int
	scheduler  *crank.Scheduler
	log        zerolog.Logger

	mu    sync.Mutex
	items []RollbackItem
}

func NewRollbackQueue(
	chainClient chain.Client,
	relayerClient relayer.Client,
	builder *Builder,
	alerts *alert.Manager,
	metrics *observability.Metrics,
	interval time.Duration,
	maxRetries int,
	log zerolog.Logger,
) *RollbackQueue {
	return &RollbackQueue{
		chain:      chainClient,
		relayer:    relayerClient,
		builder:    builder,
		alerts:     alerts,
		metrics:    metrics,
		maxRetries: maxRetries,
		scheduler:  crank.NewScheduler("rollback-queue", interval, log),
		log:        log,
	}
}

// Enqueue adds a failed compensation for retry.
func (q *RollbackQueue) Enqueue(item RollbackItem) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.metrics.RollbackQueueLen.Set(float64(len(q.items)))
	q.mu.Unlock()

	q.log.Warn().Str("settlement", item.SettlementKey).Str("item", item.ID.String()).
		Msg("compensation enqueued for retry")
}

// Len returns the number of pending compensations.
func (q *RollbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *RollbackQueue) Start(ctx context.Context) {
	q.scheduler.Start(ctx, q.drain)
}

func (q *RollbackQueue) Stop() {
	q.scheduler.Stop()
}

// drain retries every queued compensation once. Before re-invoking the
// transfer it re-derives current state from the ledger: if the intent
// already left rolling-back (another instance compensated, or an operator
// intervened), the item is dropped instead of double-reversing.
func (q *RollbackQueue) drain(ctx context.Context) error {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	var keep []RollbackItem
	for _, item := range pending {
		switch q.retryOne(ctx, item) {
		case rollbackDone, rollbackDropped:
		case rollbackEscalated:
			q.metrics.SagaManualNeeded.Inc()
		case rollbackRetryLater:
			item.Retries++
			keep = append(keep, item)
		}
	}

	q.mu.Lock()
	q.items = append(q.items, keep...)
	q.metrics.RollbackQueueLen.Set(float64(len(q.items)))
	q.mu.Unlock()
	return nil
}

type rollbackOutcome int

const (
	rollbackDone rollbackOutcome = iota
	rollbackDropped
	rollbackRetryLater
	rollbackEscalated
)

func (q *RollbackQueue) retryOne(ctx context.Context, item RollbackItem) rollbackOutcome {
	log := q.log.With().Str("settlement", item.SettlementKey).Int("retries", item.Retries).Logger()
	q.metrics.RollbackRetries.Inc()

	if item.Retries >= q.maxRetries {
		q.alerts.Send(alert.SeverityCritical,
			"settlement rollback requires manual intervention",
			"compensation retries exhausted",
			map[string]string{
				"settlement": item.SettlementKey,
				"sender":     item.Transfer.Sender.Short(),
				"recipient":  item.Transfer.Recipient.Short(),
			},
			"manual-"+item.SettlementKey,
		)
		log.Error().Msg("compensation retries exhausted, escalating")
		return rollbackEscalated
	}

	// Re-derive current state: both original orders plus the intent they
	// reference.
	stillRollingBack, err := q.intentStillRollingBack(ctx, item)
	if err != nil {
		log.Warn().Err(err).Msg("could not re-derive settlement state, keeping item")
		return rollbackRetryLater
	}
	if !stillRollingBack {
		log.Info().Msg("intent no longer rolling back, dropping compensation")
		return rollbackDropped
	}

	if _, err := q.relayer.ExecuteTransfer(ctx, item.Transfer); err != nil {
		log.Warn().Err(err).Msg("compensation retry failed")
		return rollbackRetryLater
	}

	q.metrics.SagaRolledBack.Inc()
	q.alerts.Send(alert.SeverityWarning,
		"settlement rolled back",
		"compensation succeeded on retry",
		map[string]string{"settlement": item.SettlementKey},
		"rollback-"+item.SettlementKey,
	)
	log.Info().Msg("compensation succeeded on retry")
	return rollbackDone
}

func (q *RollbackQueue) intentStillRollingBack(ctx context.Context, item RollbackItem) (bool, error) {
	// The original orders carry the token; either surviving one resolves
	// the intent address.
	var token record.MatchToken
	found := false
	for _, addr := range []chain.Address{item.LongOrder, item.ShortOrder} {
		acct, err := q.chain.FetchAccount(ctx, addr)
		if err != nil {
			if errors.Is(err, chain.ErrAccountNotFound) {
				continue
			}
			return false, err
		}
		o, err := record.DecodeOrder(acct.Address, acct.Data)
		if err != nil {
			continue
		}
		token = o.Token
		found = true
		break
	}
	if !found {
		// Both orders reclaimed: the settlement reached a terminal state
		// without us, nothing left to reverse.
		return false, nil
	}

	acct, err := q.chain.FetchAccount(ctx, q.builder.IntentAddress(token))
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	intent, err := record.DecodeSettlementIntent(acct.Address, acct.Data)
	if err != nil {
		return false, err
	}
	return intent.State == record.IntentRollingBack, nil
}
