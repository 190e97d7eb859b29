package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
)

const crankName = "settlement"

// Config for the settlement crank.
type Config struct {
	Program        chain.Address
	PollInterval   time.Duration
	CooldownWindow time.Duration
}

// Crank scans for matched, filled order pairs and drives each through the
// settlement saga. Template: poll → decode → pair → lock → idempotency
// check → execute → persist.
type Crank struct {
	cfg       Config
	chain     chain.Client
	saga      *Saga
	ledger    CompletionLedger
	locker    crank.Locker
	cooldown  *crank.Cooldown
	scheduler *crank.Scheduler
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewCrank(
	cfg Config,
	chainClient chain.Client,
	saga *Saga,
	ledger CompletionLedger,
	locker crank.Locker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Crank {
	return &Crank{
		cfg:       cfg,
		chain:     chainClient,
		saga:      saga,
		ledger:    ledger,
		locker:    locker,
		cooldown:  crank.NewCooldown(cfg.CooldownWindow),
		scheduler: crank.NewScheduler(crankName, cfg.PollInterval, log),
		metrics:   metrics,
		log:       log.With().Str("crank", crankName).Logger(),
	}
}

// WithNudge wires the ledger event tap's early-wake channel.
func (c *Crank) WithNudge(nudge <-chan struct{}) *Crank {
	c.scheduler.WithNudge(nudge)
	return c
}

func (c *Crank) Start(ctx context.Context) {
	c.scheduler.Start(ctx, c.runCycle)
}

func (c *Crank) Stop() {
	c.scheduler.Stop()
}

func (c *Crank) runCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		c.metrics.PollCycles.WithLabelValues(crankName).Inc()
		c.metrics.PollCycleDur.WithLabelValues(crankName).Observe(time.Since(start).Seconds())
	}()

	c.cooldown.Sweep()
	c.metrics.CooldownEntries.WithLabelValues(crankName).Set(float64(c.cooldown.Len()))

	orders, err := c.scanOrders(ctx)
	if err != nil {
		c.metrics.PollCycleErrors.WithLabelValues(crankName).Inc()
		return fmt.Errorf("scan orders: %w", err)
	}

	pairs := record.PairOrders(orders, (*record.Order).SettleEligible)
	c.metrics.RecordsEligible.WithLabelValues(crankName).Add(float64(2 * len(pairs)))
	if len(pairs) == 0 {
		return nil
	}
	c.log.Debug().Int("pairs", len(pairs)).Msg("settlement candidates found")

	for _, raw := range pairs {
		pair := Pair{Long: raw[0], Short: raw[1]}
		// Each pair is independent work; one failure never aborts the rest
		// of the batch.
		c.processPair(ctx, pair)
	}
	return nil
}

// scanOrders fetches every order size class. One scan per layout: the
// ledger filter language has no OR over data sizes.
func (c *Crank) scanOrders(ctx context.Context) ([]*record.Order, error) {
	var all []*record.Order
	for _, size := range []int{record.OrderV1Size, record.OrderV2Size} {
		accounts, err := c.chain.ScanAccounts(ctx, c.cfg.Program, chain.AccountFilter{
			DataSize: uint64(size),
		})
		if err != nil {
			return nil, err
		}
		c.metrics.RecordsScanned.WithLabelValues(crankName).Add(float64(len(accounts)))

		decoded := record.DecodeOrders(accounts, c.log)
		c.metrics.DecodeFailures.WithLabelValues(crankName).Add(float64(len(accounts) - len(decoded)))
		all = append(all, decoded...)
	}
	return all, nil
}

func (c *Crank) processPair(ctx context.Context, pair Pair) {
	key := pair.SettlementKey()
	log := c.log.With().Str("settlement", key).Logger()

	if c.cooldown.Active(key) {
		c.metrics.CooldownSkips.WithLabelValues(crankName).Inc()
		log.Debug().Msg("skipping: cooldown active")
		return
	}

	acquired, err := c.locker.Acquire(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("lock acquire failed")
		return
	}
	if !acquired {
		c.metrics.LockContention.WithLabelValues(crankName).Inc()
		log.Debug().Msg("skipping: lock held")
		return
	}
	// Released unconditionally so a panic or early return can never leak a
	// permanent lock; the TTL is only the backstop for a crashed process.
	defer func() {
		if err := c.locker.Release(ctx, key); err != nil {
			log.Warn().Err(err).Msg("lock release failed, TTL will expire it")
		}
	}()

	completed, err := c.ledger.IsCompleted(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("idempotency lookup failed")
		return
	}
	if completed {
		c.metrics.IdempotencySkips.WithLabelValues(crankName).Inc()
		log.Debug().Msg("skipping: already completed")
		return
	}

	state, err := c.saga.Execute(ctx, pair)
	if err != nil {
		c.cooldown.Trip(key)
		log.Error().Err(err).Str("state", state.String()).Msg("settlement failed")
		return
	}
	c.cooldown.Clear(key)
}
