package mpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

// ComputationID identifies one MPC computation instance.
type ComputationID [32]byte

// Result is the MPC service's output for one computation.
type Result struct {
	ID     ComputationID
	Output []byte
}

// ErrResultNotReady means the computation has not finished yet.
var ErrResultNotReady = errors.New("mpc: result not ready")

// ErrResultTimeout means polling exhausted its attempt budget. Treated as a
// soft failure: the crank logs it and retries on a later cycle.
var ErrResultTimeout = errors.New("mpc: result polling timed out")

// ResultStore reads computation outputs. Results arrive asynchronously,
// either via a callback transaction on the ledger or through this store.
type ResultStore interface {
	FetchResult(ctx context.Context, id ComputationID) (*Result, error)
}

// TriggerInstruction builds the ledger instruction that kicks off an MPC
// computation. offset selects the computation definition inside the MPC
// program; inputs are the ciphertext operands, in order.
func TriggerInstruction(mpcProgram chain.Address, offset uint32, accounts []chain.AccountMeta, inputs ...[]byte) chain.Instruction {
	args := make([]byte, 4)
	binary.LittleEndian.PutUint32(args, offset)
	for _, in := range inputs {
		args = append(args, in...)
	}
	return chain.NewInstruction(mpcProgram, "trigger_computation", accounts, args)
}

// Poller awaits a computation result with a bounded attempt count at a
// fixed interval. Explicitly a bounded retry, not a blocking wait: it
// returns as soon as ctx is cancelled, so a stopping crank never hangs on
// the MPC service.
type Poller struct {
	store    ResultStore
	interval time.Duration
	attempts int
	log      zerolog.Logger
}

func NewPoller(store ResultStore, interval time.Duration, attempts int, log zerolog.Logger) *Poller {
	return &Poller{
		store:    store,
		interval: interval,
		attempts: attempts,
		log:      log,
	}
}

// Await polls until the result is ready, the attempt budget is spent, or
// ctx is cancelled.
func (p *Poller) Await(ctx context.Context, id ComputationID) (*Result, error) {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		res, err := p.store.FetchResult(ctx, id)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrResultNotReady) {
			return nil, fmt.Errorf("fetch mpc result: %w", err)
		}

		p.log.Debug().Int("attempt", attempt).Int("max", p.attempts).Msg("mpc result not ready")

		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}

	return nil, ErrResultTimeout
}
