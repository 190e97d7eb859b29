package record

import (
	"encoding/binary"
	"fmt"

	"PerpCrank/internal/chain"
)

// IntentState is the settlement intent's on-ledger lifecycle.
type IntentState uint8

const (
	IntentPending IntentState = iota
	IntentLeg1Recorded
	IntentSettled
	IntentRollingBack
	IntentRolledBack
)

func (s IntentState) String() string {
	switch s {
	case IntentPending:
		return "pending"
	case IntentLeg1Recorded:
		return "leg1_recorded"
	case IntentSettled:
		return "settled"
	case IntentRollingBack:
		return "rolling_back"
	case IntentRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("intent(%d)", uint8(s))
	}
}

// SettlementIntent is the account the settle_intent transaction creates. It
// reserves both legs and carries the cleartext leg amounts the MPC revealed
// for this match, which is what the relayer calls need.
type SettlementIntent struct {
	Address     chain.Address
	Token       MatchToken
	BaseAsset   chain.Address
	QuoteAsset  chain.Address
	BaseAmount  uint64
	QuoteAmount uint64
	State       IntentState
}

const SettlementIntentSize = 113

// offsets within the intent account
const (
	intentToken       = 0
	intentBaseAsset   = 32
	intentQuoteAsset  = 64
	intentBaseAmount  = 96
	intentQuoteAmount = 104
	intentState       = 112
)

// DecodeSettlementIntent decodes one settlement intent account buffer.
func DecodeSettlementIntent(addr chain.Address, data []byte) (*SettlementIntent, error) {
	if len(data) != SettlementIntentSize {
		return nil, fmt.Errorf("%w: intent buffer of %d bytes", ErrUnknownSize, len(data))
	}

	r := &reader{data: data}
	in := &SettlementIntent{
		Address:     addr,
		Token:       r.token(intentToken),
		BaseAsset:   r.address(intentBaseAsset),
		QuoteAsset:  r.address(intentQuoteAsset),
		BaseAmount:  r.u64(intentBaseAmount),
		QuoteAmount: r.u64(intentQuoteAmount),
	}

	state := r.byte(intentState)
	if state > uint8(IntentRolledBack) {
		return nil, fmt.Errorf("decode intent %s: unknown state byte %d", addr.Short(), state)
	}
	in.State = IntentState(state)

	if r.err != nil {
		return nil, fmt.Errorf("decode intent %s: %w", addr.Short(), r.err)
	}
	return in, nil
}

// EncodeSettlementIntent serializes an intent account, for fixtures.
func EncodeSettlementIntent(in *SettlementIntent) []byte {
	data := make([]byte, SettlementIntentSize)
	copy(data[intentToken:], in.Token[:])
	copy(data[intentBaseAsset:], in.BaseAsset[:])
	copy(data[intentQuoteAsset:], in.QuoteAsset[:])
	binary.LittleEndian.PutUint64(data[intentBaseAmount:], in.BaseAmount)
	binary.LittleEndian.PutUint64(data[intentQuoteAmount:], in.QuoteAmount)
	data[intentState] = byte(in.State)
	return data
}
