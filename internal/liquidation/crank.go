package liquidation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/alert"
	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/mpc"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
)

const crankName = "liquidation"

// ComputationOffsetBatchCheck selects the margin batch-check computation in
// the MPC program.
const ComputationOffsetBatchCheck uint32 = 3

// Config for the liquidation crank.
type Config struct {
	Program        chain.Address
	MPCProgram     chain.Address
	Authority      chain.Address
	PollInterval   time.Duration
	CooldownWindow time.Duration
	MaxBatchSize   int
}

// Crank runs the two liquidation passes each cycle. Pass one groups
// eligible open positions per market into bounded batches and submits a
// batch-check intent plus the MPC trigger. Pass two finds completed
// batch-check records whose correctness flag holds and submits the actual
// liquidation transaction for their members.
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
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > record.BatchCheckMaxMembers {
		cfg.MaxBatchSize = record.BatchCheckMaxMembers
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

	if err := c.submitBatchChecks(ctx); err != nil {
		c.metrics.PollCycleErrors.WithLabelValues(crankName).Inc()
		return err
	}
	if err := c.executeCompletedChecks(ctx); err != nil {
		c.metrics.PollCycleErrors.WithLabelValues(crankName).Inc()
		return err
	}
	return nil
}

// --- pass one: batch-check intents ---

func (c *Crank) submitBatchChecks(ctx context.Context) error {
	positions, err := c.scanPositions(ctx)
	if err != nil {
		return fmt.Errorf("scan positions: %w", err)
	}

	eligible := positions[:0]
	for _, p := range positions {
		if p.LiquidationEligible() {
			eligible = append(eligible, p)
		}
	}
	c.metrics.RecordsEligible.WithLabelValues(crankName).Add(float64(len(eligible)))

	for market, group := range GroupByMarket(eligible) {
		for _, batch := range Chunk(group, c.cfg.MaxBatchSize) {
			c.submitOneBatch(ctx, market, batch)
		}
	}
	return nil
}

// GroupByMarket buckets positions by market identity.
func GroupByMarket(positions []*record.Position) map[chain.Address][]*record.Position {
	out := make(map[chain.Address][]*record.Position)
	for _, p := range positions {
		out[p.Market] = append(out[p.Market], p)
	}
	return out
}

// Chunk splits positions into batches of at most size.
func Chunk(positions []*record.Position, size int) [][]*record.Position {
	if size <= 0 {
		return nil
	}
	var out [][]*record.Position
	for len(positions) > size {
		out = append(out, positions[:size])
		positions = positions[size:]
	}
	if len(positions) > 0 {
		out = append(out, positions)
	}
	return out
}

// BatchCheckAddress derives the batch-check account for a member set. The
// member digest keys the batch, so the same set never creates two records.
func BatchCheckAddress(program, market chain.Address, members []*record.Position) chain.Address {
	h := sha256.New()
	for _, m := range members {
		h.Write(m.Address[:])
	}
	return chain.DeriveAddress(program, []byte("batch_check"), market[:], h.Sum(nil))
}

func (c *Crank) submitOneBatch(ctx context.Context, market chain.Address, batch []*record.Position) {
	batchAddr := BatchCheckAddress(c.cfg.Program, market, batch)
	key := "liqbatch-" + batchAddr.String()
	log := c.log.With().Str("batch", batchAddr.Short()).Str("market", market.Short()).Logger()

	if c.cooldown.Active(key) {
		c.metrics.CooldownSkips.WithLabelValues(crankName).Inc()
		return
	}

	// A check account for this exact member set means the intent already
	// landed and the MPC result is pending; the members stay unflagged
	// until the callback, so without this probe every cycle would resubmit
	// and burn a rejected transaction.
	switch _, err := c.chain.FetchAccount(ctx, batchAddr); {
	case err == nil:
		log.Debug().Msg("batch check already pending")
		return
	case !errors.Is(err, chain.ErrAccountNotFound):
		log.Warn().Err(err).Msg("batch check probe failed, retrying next cycle")
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

	accounts := []chain.AccountMeta{
		{Address: batchAddr, IsWritable: true},
	}
	var inputs [][]byte
	for _, p := range batch {
		accounts = append(accounts, chain.AccountMeta{Address: p.Address, IsWritable: true})
		inputs = append(inputs, p.EncMargin[:], p.EncSize[:])
	}
	accounts = append(accounts, chain.AccountMeta{Address: c.cfg.Authority, IsSigner: true})

	instrs := []chain.Instruction{
		chain.NewInstruction(c.cfg.Program, "batch_check_intent", accounts, market[:]),
		mpc.TriggerInstruction(c.cfg.MPCProgram, ComputationOffsetBatchCheck,
			[]chain.AccountMeta{
				{Address: batchAddr, IsWritable: true},
				{Address: c.cfg.Authority, IsSigner: true},
			},
			inputs...),
	}

	err = crank.Retry(ctx, log, crank.DefaultBackoff, "batch_check_intent", func(ctx context.Context) error {
		_, submitErr := c.chain.SubmitTransaction(ctx, instrs, chain.CommitmentConfirmed)
		if submitErr != nil {
			c.metrics.TxRetries.WithLabelValues("batch_check_intent").Inc()
		}
		return submitErr
	})
	if err != nil {
		c.metrics.TxSubmitted.WithLabelValues("batch_check_intent", "error").Inc()
		c.cooldown.Trip(key)
		log.Error().Err(err).Int("members", len(batch)).Msg("batch-check intent failed")
		return
	}

	c.metrics.TxSubmitted.WithLabelValues("batch_check_intent", "ok").Inc()
	c.cooldown.Clear(key)
	log.Info().Int("members", len(batch)).Msg("batch check submitted")
}

// --- pass two: completed checks ---

func (c *Crank) executeCompletedChecks(ctx context.Context) error {
	accounts, err := c.chain.ScanAccounts(ctx, c.cfg.Program, chain.AccountFilter{
		DataSize: record.BatchCheckSize,
	})
	if err != nil {
		return fmt.Errorf("scan batch checks: %w", err)
	}
	c.metrics.RecordsScanned.WithLabelValues(crankName).Add(float64(len(accounts)))

	checks := record.DecodeBatchChecks(accounts, c.log)
	c.metrics.DecodeFailures.WithLabelValues(crankName).Add(float64(len(accounts) - len(checks)))

	for _, check := range checks {
		// StatusClosed means the MPC callback landed; only a correct check
		// with live flagged members proceeds to liquidation.
		if check.Status != record.StatusClosed || !check.Correct {
			continue
		}
		c.liquidateBatch(ctx, check)
	}
	return nil
}

func (c *Crank) liquidateBatch(ctx context.Context, check *record.BatchCheck) {
	key := "liquidate-" + check.Address.String()
	log := c.log.With().Str("batch", check.Address.Short()).Str("market", check.Market.Short()).Logger()

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

	// Batch-membership check: re-read every member and require it to still
	// be a flagged open position in this batch.
	accounts := []chain.AccountMeta{
		{Address: check.Address, IsWritable: true},
	}
	live := 0
	for _, member := range check.Members {
		acct, err := c.chain.FetchAccount(ctx, member)
		if err != nil {
			log.Warn().Err(err).Str("member", member.Short()).Msg("member unreadable, skipping batch")
			c.cooldown.Trip(key)
			return
		}
		pos, err := record.DecodePosition(acct.Address, acct.Data)
		if err != nil {
			log.Warn().Err(err).Str("member", member.Short()).Msg("member undecodable, skipping batch")
			c.cooldown.Trip(key)
			return
		}
		if !check.HasMember(pos.Address) || !pos.LiquidationFlagged || pos.Status != record.StatusOpen {
			continue
		}
		accounts = append(accounts, chain.AccountMeta{Address: pos.Address, IsWritable: true})
		live++
	}
	if live == 0 {
		log.Debug().Msg("no live members left, nothing to liquidate")
		return
	}
	accounts = append(accounts, chain.AccountMeta{Address: c.cfg.Authority, IsSigner: true})

	instr := chain.NewInstruction(c.cfg.Program, "liquidate_batch", accounts, check.Market[:])
	err = crank.Retry(ctx, log, crank.DefaultBackoff, "liquidate_batch", func(ctx context.Context) error {
		_, submitErr := c.chain.SubmitTransaction(ctx, []chain.Instruction{instr}, chain.CommitmentConfirmed)
		if submitErr != nil {
			c.metrics.TxRetries.WithLabelValues("liquidate_batch").Inc()
		}
		return submitErr
	})
	if err != nil {
		c.metrics.TxSubmitted.WithLabelValues("liquidate_batch", "error").Inc()
		c.cooldown.Trip(key)
		if !chain.IsRetryable(err) {
			c.alerts.Send(alert.SeverityError,
				"liquidation transaction rejected",
				err.Error(),
				map[string]string{
					"batch":  check.Address.Short(),
					"market": check.Market.Short(),
				},
				"liq-fatal-"+key,
			)
		}
		log.Error().Err(err).Msg("liquidation failed")
		return
	}

	c.metrics.TxSubmitted.WithLabelValues("liquidate_batch", "ok").Inc()
	c.cooldown.Clear(key)
	log.Info().Int("members", live).Msg("batch liquidated")
}

func (c *Crank) scanPositions(ctx context.Context) ([]*record.Position, error) {
	var all []*record.Position
	for _, size := range []int{record.PositionV1Size, record.PositionV2Size} {
		accounts, err := c.chain.ScanAccounts(ctx, c.cfg.Program, chain.AccountFilter{
			DataSize: uint64(size),
		})
		if err != nil {
			return nil, err
		}
		c.metrics.RecordsScanned.WithLabelValues(crankName).Add(float64(len(accounts)))

		decoded := record.DecodePositions(accounts, c.log)
		c.metrics.DecodeFailures.WithLabelValues(crankName).Add(float64(len(accounts) - len(decoded)))
		all = append(all, decoded...)
	}
	return all, nil
}
