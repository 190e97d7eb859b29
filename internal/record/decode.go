package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"PerpCrank/internal/chain"
)

// ErrUnknownSize means the buffer length matched no known size class.
var ErrUnknownSize = errors.New("record: unknown size class")

// ErrShortBuffer means the buffer ended before a field's offset.
var ErrShortBuffer = errors.New("record: buffer too short for field")

// reader does bounds-checked fixed-offset reads over a raw account buffer.
// Any out-of-range read poisons the reader; callers check Err() once at the
// end instead of after every field.
type reader struct {
	data []byte
	err  error
}

func (r *reader) address(off int) chain.Address {
	var a chain.Address
	if r.err != nil {
		return a
	}
	if off < 0 || off+32 > len(r.data) {
		r.err = fmt.Errorf("%w: address at offset %d, len %d", ErrShortBuffer, off, len(r.data))
		return a
	}
	copy(a[:], r.data[off:off+32])
	return a
}

func (r *reader) byte(off int) byte {
	if r.err != nil {
		return 0
	}
	if off < 0 || off >= len(r.data) {
		r.err = fmt.Errorf("%w: byte at offset %d, len %d", ErrShortBuffer, off, len(r.data))
		return 0
	}
	return r.data[off]
}

func (r *reader) flag(off int) bool {
	return r.byte(off) != 0
}

func (r *reader) blob64(off int) Blob64 {
	var b Blob64
	if r.err != nil {
		return b
	}
	if off < 0 || off+64 > len(r.data) {
		r.err = fmt.Errorf("%w: blob64 at offset %d, len %d", ErrShortBuffer, off, len(r.data))
		return b
	}
	copy(b[:], r.data[off:off+64])
	return b
}

func (r *reader) token(off int) MatchToken {
	var t MatchToken
	if r.err != nil {
		return t
	}
	if off < 0 || off+32 > len(r.data) {
		r.err = fmt.Errorf("%w: token at offset %d, len %d", ErrShortBuffer, off, len(r.data))
		return t
	}
	copy(t[:], r.data[off:off+32])
	return t
}

func (r *reader) u64(off int) uint64 {
	if r.err != nil {
		return 0
	}
	if off < 0 || off+8 > len(r.data) {
		r.err = fmt.Errorf("%w: u64 at offset %d, len %d", ErrShortBuffer, off, len(r.data))
		return 0
	}
	return binary.LittleEndian.Uint64(r.data[off : off+8])
}

func (r *reader) i64(off int) int64 {
	return int64(r.u64(off))
}

// DecodeOrder decodes one order account buffer. The buffer length selects
// the version's offset table; unknown lengths and unknown enum bytes are
// rejected.
func DecodeOrder(addr chain.Address, data []byte) (*Order, error) {
	layout, ok := orderLayouts[len(data)]
	if !ok {
		return nil, fmt.Errorf("%w: order buffer of %d bytes", ErrUnknownSize, len(data))
	}

	r := &reader{data: data}
	o := &Order{
		Address:  addr,
		Version:  layout.version,
		Owner:    r.address(layout.owner),
		Market:   r.address(layout.market),
		EncPrice: r.blob64(layout.encPrice),
		EncSize:  r.blob64(layout.encSize),
		Token:    r.token(layout.token),
		Verified: r.flag(layout.verified),
		Filled:   r.flag(layout.filled),
	}

	side, err := parseSide(r.byte(layout.side))
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", addr.Short(), err)
	}
	o.Side = side

	status, err := parseStatus(r.byte(layout.status))
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", addr.Short(), err)
	}
	o.Status = status

	if layout.nonce >= 0 {
		nonce := r.token(layout.nonce)
		copy(o.Nonce[:], nonce[:])
	}
	if layout.expiresAt >= 0 {
		o.ExpiresAt = r.i64(layout.expiresAt)
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode order %s: %w", addr.Short(), r.err)
	}
	return o, nil
}

// DecodePosition decodes one position account buffer.
func DecodePosition(addr chain.Address, data []byte) (*Position, error) {
	layout, ok := positionLayouts[len(data)]
	if !ok {
		return nil, fmt.Errorf("%w: position buffer of %d bytes", ErrUnknownSize, len(data))
	}

	r := &reader{data: data}
	p := &Position{
		Address:             addr,
		Version:             layout.version,
		Owner:               r.address(layout.owner),
		Market:              r.address(layout.market),
		Verified:            r.flag(layout.verified),
		LiquidationFlagged:  r.flag(layout.liqFlag),
		FundingRequested:    r.flag(layout.fundingReq),
		MarginChangePending: r.flag(layout.marginPending),
		ClosePending:        r.flag(layout.closePending),
		EncMargin:           r.blob64(layout.encMargin),
		EncSize:             r.blob64(layout.encSize),
		LastFundingID:       r.u64(layout.lastFundingID),
	}

	side, err := parseSide(r.byte(layout.side))
	if err != nil {
		return nil, fmt.Errorf("decode position %s: %w", addr.Short(), err)
	}
	p.Side = side

	status, err := parseStatus(r.byte(layout.status))
	if err != nil {
		return nil, fmt.Errorf("decode position %s: %w", addr.Short(), err)
	}
	p.Status = status

	if layout.encFunding >= 0 {
		p.EncFunding = r.blob64(layout.encFunding)
	}
	if layout.batchToken >= 0 {
		p.BatchToken = r.token(layout.batchToken)
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode position %s: %w", addr.Short(), r.err)
	}
	return p, nil
}

// DecodeBatchCheck decodes one batch-check account buffer.
func DecodeBatchCheck(addr chain.Address, data []byte) (*BatchCheck, error) {
	if len(data) != batchCheckV1.size {
		return nil, fmt.Errorf("%w: batch-check buffer of %d bytes", ErrUnknownSize, len(data))
	}

	r := &reader{data: data}
	b := &BatchCheck{
		Address: addr,
		Market:  r.address(batchCheckV1.market),
		Correct: r.flag(batchCheckV1.correct),
	}

	status, err := parseStatus(r.byte(batchCheckV1.status))
	if err != nil {
		return nil, fmt.Errorf("decode batch-check %s: %w", addr.Short(), err)
	}
	b.Status = status

	count := int(r.byte(batchCheckV1.count))
	if count > BatchCheckMaxMembers {
		return nil, fmt.Errorf("decode batch-check %s: member count %d exceeds %d", addr.Short(), count, BatchCheckMaxMembers)
	}
	for i := 0; i < count; i++ {
		b.Members = append(b.Members, r.address(batchCheckV1.members+i*32))
	}

	if r.err != nil {
		return nil, fmt.Errorf("decode batch-check %s: %w", addr.Short(), r.err)
	}
	return b, nil
}

// DecodeOrders decodes a scan batch, skipping malformed buffers. A single
// bad account must never abort the rest of the scan.
func DecodeOrders(accounts []chain.KeyedAccount, log zerolog.Logger) []*Order {
	out := make([]*Order, 0, len(accounts))
	for _, acct := range accounts {
		o, err := DecodeOrder(acct.Address, acct.Data)
		if err != nil {
			log.Debug().Err(err).Str("account", acct.Address.Short()).Msg("skipping malformed order account")
			continue
		}
		out = append(out, o)
	}
	return out
}

// DecodePositions decodes a scan batch, skipping malformed buffers.
func DecodePositions(accounts []chain.KeyedAccount, log zerolog.Logger) []*Position {
	out := make([]*Position, 0, len(accounts))
	for _, acct := range accounts {
		p, err := DecodePosition(acct.Address, acct.Data)
		if err != nil {
			log.Debug().Err(err).Str("account", acct.Address.Short()).Msg("skipping malformed position account")
			continue
		}
		out = append(out, p)
	}
	return out
}

// DecodeBatchChecks decodes a scan batch, skipping malformed buffers.
func DecodeBatchChecks(accounts []chain.KeyedAccount, log zerolog.Logger) []*BatchCheck {
	out := make([]*BatchCheck, 0, len(accounts))
	for _, acct := range accounts {
		b, err := DecodeBatchCheck(acct.Address, acct.Data)
		if err != nil {
			log.Debug().Err(err).Str("account", acct.Address.Short()).Msg("skipping malformed batch-check account")
			continue
		}
		out = append(out, b)
	}
	return out
}
