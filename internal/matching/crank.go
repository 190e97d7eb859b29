package matching

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/alert"
	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
)

const crankName = "matching"

// Config for the matching crank.
type Config struct {
	Program        chain.Address
	Authority      chain.Address
	PollInterval   time.Duration
	CooldownWindow time.Duration
	Backoff        crank.Backoff
}

// Crank finds order pairs the MPC has stamped with a correlation token and
// submits the match transaction that marks both orders filled. Settlement
// picks the pair up on a later cycle.
type Crank struct {
	cfg       Config
	chain     chain.Client
	locker    crank.Locker
	cooldown  *crank.Cooldown
	scheduler *crank.Scheduler
	alerts    *alert.Manager
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewCrank(
	cfg Config,
	chainClient chain.Client,
	locker crank.Locker,
	alerts *alert.Manager,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Crank {
	if cfg.Backoff.Attempts == 0 {
		cfg.Backoff = crank.DefaultBackoff
	}
	return &Crank{
		cfg:       cfg,
		chain:     chainClient,
		locker:    locker,
		cooldown:  crank.NewCooldown(cfg.CooldownWindow),
		scheduler: crank.NewScheduler(crankName, cfg.PollInterval, log),
		alerts:    alerts,
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

// MatchKey derives the work-item key for a candidate pair.
func MatchKey(token record.MatchToken) string {
	return "match-" + hex.EncodeToString(token[:])
}

// MatchInstruction builds the match transaction for a candidate pair.
func MatchInstruction(program, authority chain.Address, long, short *record.Order) chain.Instruction {
	token := long.Token
	return chain.NewInstruction(program, "match_orders", []chain.AccountMeta{
		{Address: long.Address, IsWritable: true},
		{Address: short.Address, IsWritable: true},
		{Address: authority, IsSigner: true},
	}, token[:])
}

func (c *Crank) runCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		c.metrics.PollCycles.WithLabelValues(crankName).Inc()
		c.metrics.PollCycleDur.WithLabelValues(crankName).Observe(time.Since(start).Seconds())
	}()

	c.cooldown.Sweep()
	c.metrics.CooldownEntries.WithLabelValues(crankName).Set(float64(c.cooldown.Len()))

	var orders []*record.Order
	for _, size := range []int{record.OrderV1Size, record.OrderV2Size} {
		accounts, err := c.chain.ScanAccounts(ctx, c.cfg.Program, chain.AccountFilter{
			DataSize: uint64(size),
		})
		if err != nil {
			c.metrics.PollCycleErrors.WithLabelValues(crankName).Inc()
			return fmt.Errorf("scan orders: %w", err)
		}
		c.metrics.RecordsScanned.WithLabelValues(crankName).Add(float64(len(accounts)))

		decoded := record.DecodeOrders(accounts, c.log)
		c.metrics.DecodeFailures.WithLabelValues(crankName).Add(float64(len(accounts) - len(decoded)))
		orders = append(orders, decoded...)
	}

	pairs := record.PairOrders(orders, (*record.Order).MatchEligible)
	c.metrics.RecordsEligible.WithLabelValues(crankName).Add(float64(2 * len(pairs)))

	for _, pair := range pairs {
		c.processPair(ctx, pair[0], pair[1])
	}
	return nil
}

func (c *Crank) processPair(ctx context.Context, long, short *record.Order) {
	key := MatchKey(long.Token)
	log := c.log.With().Str("match", key).Logger()

	if c.cooldown.Active(key) {
		c.metrics.CooldownSkips.WithLabelValues(crankName).Inc()
		return
	}

	acquired, err := c.locker.Acquire(ctx, key)
	if err != nil {
		log.Error().Err(err).Msg("lock acquire failed")
		return
	}
	if !acquired {
		c.metrics.LockContention.WithLabelValues(crankName).Inc()
		return
	}
	defer func() {
		if err := c.locker.Release(ctx, key); err != nil {
			log.Warn().Err(err).Msg("lock release failed, TTL will expire it")
		}
	}()

	instr := MatchInstruction(c.cfg.Program, c.cfg.Authority, long, short)
	err = crank.Retry(ctx, log, c.cfg.Backoff, "match_orders", func(ctx context.Context) error {
		_, submitErr := c.chain.SubmitTransaction(ctx, []chain.Instruction{instr}, chain.CommitmentConfirmed)
		if submitErr != nil {
			c.metrics.TxRetries.WithLabelValues("match_orders").Inc()
		}
		return submitErr
	})
	if err != nil {
		c.metrics.TxSubmitted.WithLabelValues("match_orders", "error").Inc()
		c.cooldown.Trip(key)

		// Program-level rejections are surfaced immediately; they will not
		// heal on retry.
		if !chain.IsRetryable(err) {
			c.alerts.Send(alert.SeverityError,
				"match transaction rejected",
				err.Error(),
				map[string]string{
					"match":  key,
					"market": long.Market.Short(),
				},
				"match-fatal-"+key,
			)
		}
		log.Error().Err(err).Msg("match submission failed")
		return
	}

	c.metrics.TxSubmitted.WithLabelValues("match_orders", "ok").Inc()
	c.cooldown.Clear(key)
	log.Info().Str("market", long.Market.Short()).Msg("orders matched")
}
