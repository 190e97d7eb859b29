package funding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
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

const crankName = "funding"

// ComputationOffsetFunding selects the funding accrual computation in the
// MPC program.
const ComputationOffsetFunding uint32 = 5

// Config for the funding crank.
type Config struct {
	Program        chain.Address
	MPCProgram     chain.Address
	Authority      chain.Address
	PollInterval   time.Duration
	CooldownWindow time.Duration
	ResultInterval time.Duration
	ResultAttempts int
}

// Crank settles funding for positions that have requested it. For each
// eligible position it triggers the MPC funding computation, awaits the
// result with a bounded poll, and submits the funding callback transaction
// carrying the computed delta. A missing result after the poll budget is a
// soft failure: the position stays eligible and a later cycle retries.
type Crank struct {
	cfg       Config
	chain     chain.Client
	poller    *mpc.Poller
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
	results mpc.ResultStore,
	locker crank.Locker,
	alerts *alert.Manager,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Crank {
	log = log.With().Str("crank", crankName).Logger()
	return &Crank{
		cfg:       cfg,
		chain:     chainClient,
		poller:    mpc.NewPoller(results, cfg.ResultInterval, cfg.ResultAttempts, log),
		locker:    locker,
		cooldown:  crank.NewCooldown(cfg.CooldownWindow),
		scheduler: crank.NewScheduler(crankName, cfg.PollInterval, log),
		alerts:    alerts,
		metrics:   metrics,
		log:       log,
	}
}

func (c *Crank) Start(ctx context.Context) {
	c.scheduler.Start(ctx, c.runCycle)
}

func (c *Crank) Stop() {
	c.scheduler.Stop()
}

// FundingComputationID derives the computation identity for one position's
// next funding round. Keying on the last settled round makes retriggering
// after a crash land on the same computation instead of a duplicate.
func FundingComputationID(position chain.Address, lastFundingID uint64) mpc.ComputationID {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], lastFundingID+1)
	h := sha256.New()
	h.Write([]byte("funding"))
	h.Write(position[:])
	h.Write(seq[:])
	var id mpc.ComputationID
	copy(id[:], h.Sum(nil))
	return id
}

func (c *Crank) runCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		c.metrics.PollCycles.WithLabelValues(crankName).Inc()
		c.metrics.PollCycleDur.WithLabelValues(crankName).Observe(time.Since(start).Seconds())
	}()

	c.cooldown.Sweep()
	c.metrics.CooldownEntries.WithLabelValues(crankName).Set(float64(c.cooldown.Len()))

	positions, err := c.scanPositions(ctx)
	if err != nil {
		c.metrics.PollCycleErrors.WithLabelValues(crankName).Inc()
		return fmt.Errorf("scan positions: %w", err)
	}

	eligible := 0
	for _, p := range positions {
		if !p.FundingEligible() {
			continue
		}
		eligible++
		c.processPosition(ctx, p)
	}
	c.metrics.RecordsEligible.WithLabelValues(crankName).Add(float64(eligible))
	return nil
}

func (c *Crank) processPosition(ctx context.Context, p *record.Position) {
	key := "funding-" + p.Address.String()
	log := c.log.With().Str("position", p.Address.Short()).Uint64("round", p.LastFundingID+1).Logger()

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

	if err := c.triggerComputation(ctx, p, log); err != nil {
		c.metrics.TxSubmitted.WithLabelValues("trigger_funding", "error").Inc()
		c.cooldown.Trip(key)
		log.Error().Err(err).Msg("funding trigger failed")
		return
	}
	c.metrics.TxSubmitted.WithLabelValues("trigger_funding", "ok").Inc()

	id := FundingComputationID(p.Address, p.LastFundingID)
	c.metrics.MPCPolls.Inc()
	res, err := c.poller.Await(ctx, id)
	if err != nil {
		if errors.Is(err, mpc.ErrResultTimeout) {
			// Soft failure. The position keeps its funding-requested flag,
			// so the next cycle retriggers the same computation.
			c.metrics.MPCPollMisses.Inc()
			log.Warn().Msg("funding result not ready, will retry next cycle")
			return
		}
		c.cooldown.Trip(key)
		log.Error().Err(err).Msg("funding result fetch failed")
		return
	}

	if err := c.submitCallback(ctx, p, res, log); err != nil {
		c.metrics.TxSubmitted.WithLabelValues("funding_callback", "error").Inc()
		c.cooldown.Trip(key)
		if !chain.IsRetryable(err) {
			c.alerts.Send(alert.SeverityError,
				"funding callback rejected",
				err.Error(),
				map[string]string{"position": p.Address.Short()},
				"funding-fatal-"+key,
			)
		}
		log.Error().Err(err).Msg("funding callback failed")
		return
	}

	c.metrics.TxSubmitted.WithLabelValues("funding_callback", "ok").Inc()
	c.cooldown.Clear(key)
	log.Info().Msg("funding settled")
}

func (c *Crank) triggerComputation(ctx context.Context, p *record.Position, log zerolog.Logger) error {
	instr := mpc.TriggerInstruction(c.cfg.MPCProgram, ComputationOffsetFunding,
		[]chain.AccountMeta{
			{Address: p.Address, IsWritable: true},
			{Address: c.cfg.Authority, IsSigner: true},
		},
		p.EncSize[:], p.EncMargin[:])

	return crank.Retry(ctx, log, crank.DefaultBackoff, "trigger_funding", func(ctx context.Context) error {
		_, err := c.chain.SubmitTransaction(ctx, []chain.Instruction{instr}, chain.CommitmentConfirmed)
		if err != nil {
			c.metrics.TxRetries.WithLabelValues("trigger_funding").Inc()
		}
		return err
	})
}

func (c *Crank) submitCallback(ctx context.Context, p *record.Position, res *mpc.Result, log zerolog.Logger) error {
	args := make([]byte, 8, 8+len(res.Output))
	binary.LittleEndian.PutUint64(args, p.LastFundingID+1)
	args = append(args, res.Output...)

	instr := chain.NewInstruction(c.cfg.Program, "funding_callback",
		[]chain.AccountMeta{
			{Address: p.Address, IsWritable: true},
			{Address: c.cfg.Authority, IsSigner: true},
		},
		args)

	return crank.Retry(ctx, log, crank.DefaultBackoff, "funding_callback", func(ctx context.Context) error {
		_, err := c.chain.SubmitTransaction(ctx, []chain.Instruction{instr}, chain.CommitmentConfirmed)
		if err != nil {
			c.metrics.TxRetries.WithLabelValues("funding_callback").Inc()
		}
		return err
	})
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
