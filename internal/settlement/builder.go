package settlement

import (
	"encoding/binary"
	"encoding/hex"

	"PerpCrank/internal/chain"
	"PerpCrank/internal/record"
	"PerpCrank/internal/relayer"
)

// Pair is one matched long/short order pair, the settlement crank's unit of
// work.
type Pair struct {
	Long  *record.Order
	Short *record.Order
}

func (p Pair) Token() record.MatchToken {
	return p.Long.Token
}

func (p Pair) Market() chain.Address {
	return p.Long.Market
}

// SettlementKey derives the work-item key. The correlation token is unique
// per match, so it keys the lock, the cooldown, and the idempotency ledger.
func (p Pair) SettlementKey() string {
	token := p.Token()
	return "settle-" + hex.EncodeToString(token[:])
}

// Builder assembles the ledger instructions for each saga step. The crank's
// authority signs every instruction.
type Builder struct {
	program   chain.Address
	authority chain.Address
}

func NewBuilder(program, authority chain.Address) *Builder {
	return &Builder{program: program, authority: authority}
}

// IntentAddress derives the settlement intent account for a match token.
func (b *Builder) IntentAddress(token record.MatchToken) chain.Address {
	return chain.DeriveAddress(b.program, []byte("settlement_intent"), token[:])
}

func (b *Builder) pairAccounts(p Pair) []chain.AccountMeta {
	return []chain.AccountMeta{
		{Address: b.IntentAddress(p.Token()), IsWritable: true},
		{Address: p.Long.Address, IsWritable: true},
		{Address: p.Short.Address, IsWritable: true},
		{Address: b.authority, IsSigner: true},
	}
}

// SettleIntent reserves both legs on-ledger and creates the intent account.
func (b *Builder) SettleIntent(p Pair) chain.Instruction {
	token := p.Token()
	return chain.NewInstruction(b.program, "settle_intent", b.pairAccounts(p), token[:])
}

// RecordTransfer records one leg's opaque relayer transfer identifier.
func (b *Builder) RecordTransfer(p Pair, kind relayer.Kind, transferID string) chain.Instruction {
	token := p.Token()
	args := make([]byte, 0, 32+1+2+len(transferID))
	args = append(args, token[:]...)
	if kind == relayer.KindQuote {
		args = append(args, 1)
	} else {
		args = append(args, 0)
	}
	var idLen [2]byte
	binary.LittleEndian.PutUint16(idLen[:], uint16(len(transferID)))
	args = append(args, idLen[:]...)
	args = append(args, transferID...)
	return chain.NewInstruction(b.program, "record_transfer", b.pairAccounts(p), args)
}

// Finalize closes both orders and marks the intent settled.
func (b *Builder) Finalize(p Pair) chain.Instruction {
	token := p.Token()
	return chain.NewInstruction(b.program, "finalize_settlement", b.pairAccounts(p), token[:])
}

// Abort marks the intent rolling-back after a failed second leg.
func (b *Builder) Abort(p Pair) chain.Instruction {
	token := p.Token()
	return chain.NewInstruction(b.program, "abort_settlement", b.pairAccounts(p), token[:])
}
