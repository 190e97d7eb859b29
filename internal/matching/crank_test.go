package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpCrank/internal/alert"
	"PerpCrank/internal/chain"
	"PerpCrank/internal/crank"
	"PerpCrank/internal/observability"
	"PerpCrank/internal/record"
)

var testMetrics = observability.NewMetrics()

type fakeChain struct {
	mu        sync.Mutex
	accounts  map[int][]chain.KeyedAccount // keyed by DataSize filter
	submitErr error
	submitted [][]chain.Instruction
}

func (f *fakeChain) ScanAccounts(_ context.Context, _ chain.Address, filter chain.AccountFilter) ([]chain.KeyedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[int(filter.DataSize)], nil
}

func (f *fakeChain) FetchAccount(context.Context, chain.Address) (*chain.KeyedAccount, error) {
	return nil, chain.ErrAccountNotFound
}

func (f *fakeChain) SubmitTransaction(_ context.Context, instrs []chain.Instruction, _ chain.Commitment) (chain.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, instrs)
	return "sig", nil
}

type discardSink struct{}

func (discardSink) Send(alert.Alert) error { return nil }

func matchableOrder(side record.Side, addr byte) *record.Order {
	o := &record.Order{
		Version:  1,
		Side:     side,
		Status:   record.StatusOpen,
		Verified: true,
	}
	o.Address[31] = addr
	o.Market[0] = 1
	o.Token[0] = 0xEE
	return o
}

func newMatchingCrank(fc *fakeChain, locker crank.Locker, sink alert.Sink) *Crank {
	cfg := Config{
		PollInterval:   time.Hour,
		CooldownWindow: time.Minute,
		Backoff:        crank.Backoff{Base: time.Millisecond, Max: time.Millisecond, Attempts: 2},
	}
	cfg.Program[0] = 1
	cfg.Authority[0] = 2
	return NewCrank(cfg, fc, locker, alert.NewManager(time.Minute, sink), testMetrics, zerolog.Nop())
}

func encodeOrders(t *testing.T, orders ...*record.Order) []chain.KeyedAccount {
	t.Helper()
	out := make([]chain.KeyedAccount, 0, len(orders))
	for _, o := range orders {
		data, err := record.EncodeOrder(o)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, chain.KeyedAccount{Address: o.Address, Data: data})
	}
	return out
}

func TestCrankMatchesTokenedPair(t *testing.T) {
	long := matchableOrder(record.SideLong, 0x10)
	short := matchableOrder(record.SideShort, 0x11)

	fc := &fakeChain{accounts: map[int][]chain.KeyedAccount{
		record.OrderV1Size: encodeOrders(t, long, short),
	}}
	c := newMatchingCrank(fc, crank.NewMemoryLocker(time.Minute), discardSink{})

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(fc.submitted) != 1 {
		t.Fatalf("submitted %d transactions, want 1", len(fc.submitted))
	}
	instr := fc.submitted[0][0]
	d := chain.Discriminator("match_orders")
	if string(instr.Data[:8]) != string(d[:]) {
		t.Error("wrong instruction discriminator")
	}
	if string(instr.Data[8:]) != string(long.Token[:]) {
		t.Error("match token not carried in the instruction args")
	}
	// Long first, short second, authority signs.
	if instr.Accounts[0].Address != long.Address || instr.Accounts[1].Address != short.Address {
		t.Error("order accounts in the wrong slots")
	}
	if !instr.Accounts[2].IsSigner {
		t.Error("authority not marked signer")
	}
}

func TestCrankIgnoresUnmatchableOrders(t *testing.T) {
	// A lone long, a filled pair, and an unverified pair: none may match.
	lone := matchableOrder(record.SideLong, 0x20)
	lone.Token[0] = 0x01

	filledLong := matchableOrder(record.SideLong, 0x21)
	filledShort := matchableOrder(record.SideShort, 0x22)
	filledLong.Token[0], filledShort.Token[0] = 0x02, 0x02
	filledLong.Filled, filledShort.Filled = true, true

	rawLong := matchableOrder(record.SideLong, 0x23)
	rawShort := matchableOrder(record.SideShort, 0x24)
	rawLong.Token[0], rawShort.Token[0] = 0x03, 0x03
	rawLong.Verified, rawShort.Verified = false, false

	fc := &fakeChain{accounts: map[int][]chain.KeyedAccount{
		record.OrderV1Size: encodeOrders(t, lone, filledLong, filledShort, rawLong, rawShort),
	}}
	c := newMatchingCrank(fc, crank.NewMemoryLocker(time.Minute), discardSink{})

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fc.submitted) != 0 {
		t.Fatalf("submitted %d transactions, want 0", len(fc.submitted))
	}
}

func TestCrankFatalRejectionAlertsAndCoolsDown(t *testing.T) {
	long := matchableOrder(record.SideLong, 0x30)
	short := matchableOrder(record.SideShort, 0x31)

	fc := &fakeChain{
		accounts: map[int][]chain.KeyedAccount{
			record.OrderV1Size: encodeOrders(t, long, short),
		},
		submitErr: &chain.ProgramError{Op: "match_orders", Code: chain.CodeNotMatched},
	}
	sink := &captureSink{}
	c := newMatchingCrank(fc, crank.NewMemoryLocker(time.Minute), sink)

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	alerts := len(sink.alerts)
	sink.mu.Unlock()
	if alerts != 1 {
		t.Fatalf("got %d alerts, want 1", alerts)
	}

	// The pair is now cooling down: a second cycle must not resubmit.
	fc.mu.Lock()
	fc.submitErr = nil
	fc.mu.Unlock()
	if err := c.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fc.submitted) != 0 {
		t.Error("cooldown did not suppress the retry cycle")
	}
}

func TestCrankSkipsLockedPair(t *testing.T) {
	long := matchableOrder(record.SideLong, 0x40)
	short := matchableOrder(record.SideShort, 0x41)

	locker := crank.NewMemoryLocker(time.Minute)
	if ok, _ := locker.Acquire(context.Background(), MatchKey(long.Token)); !ok {
		t.Fatal("pre-acquire failed")
	}

	fc := &fakeChain{accounts: map[int][]chain.KeyedAccount{
		record.OrderV1Size: encodeOrders(t, long, short),
	}}
	c := newMatchingCrank(fc, locker, discardSink{})

	if err := c.runCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fc.submitted) != 0 {
		t.Error("work proceeded while the lock was held elsewhere")
	}
}

type captureSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *captureSink) Send(a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}
