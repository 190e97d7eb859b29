package record

import (
	"encoding/binary"
	"fmt"
)

// Encode helpers produce byte buffers in the program's account layouts.
// The cranks never write accounts directly; these exist for fixtures and
// for the decoder round-trip tests.

// EncodeOrder serializes an order at the layout matching its Version.
func EncodeOrder(o *Order) ([]byte, error) {
	var layout orderLayout
	switch o.Version {
	case 1:
		layout = orderLayouts[OrderV1Size]
	case 2:
		layout = orderLayouts[OrderV2Size]
	default:
		return nil, fmt.Errorf("encode order: unknown version %d", o.Version)
	}

	data := make([]byte, layout.size)
	copy(data[layout.owner:], o.Owner[:])
	copy(data[layout.market:], o.Market[:])
	data[layout.side] = byte(o.Side)
	data[layout.status] = byte(o.Status)
	data[layout.verified] = encodeFlag(o.Verified)
	data[layout.filled] = encodeFlag(o.Filled)
	copy(data[layout.encPrice:], o.EncPrice[:])
	copy(data[layout.encSize:], o.EncSize[:])
	copy(data[layout.token:], o.Token[:])

	if layout.nonce >= 0 {
		copy(data[layout.nonce:], o.Nonce[:])
	}
	if layout.expiresAt >= 0 {
		binary.LittleEndian.PutUint64(data[layout.expiresAt:], uint64(o.ExpiresAt))
	}

	return data, nil
}

// EncodePosition serializes a position at the layout matching its Version.
func EncodePosition(p *Position) ([]byte, error) {
	var layout positionLayout
	switch p.Version {
	case 1:
		layout = positionLayouts[PositionV1Size]
	case 2:
		layout = positionLayouts[PositionV2Size]
	default:
		return nil, fmt.Errorf("encode position: unknown version %d", p.Version)
	}

	data := make([]byte, layout.size)
	copy(data[layout.owner:], p.Owner[:])
	copy(data[layout.market:], p.Market[:])
	data[layout.side] = byte(p.Side)
	data[layout.status] = byte(p.Status)
	data[layout.verified] = encodeFlag(p.Verified)
	data[layout.liqFlag] = encodeFlag(p.LiquidationFlagged)
	data[layout.fundingReq] = encodeFlag(p.FundingRequested)
	data[layout.marginPending] = encodeFlag(p.MarginChangePending)
	data[layout.closePending] = encodeFlag(p.ClosePending)
	copy(data[layout.encMargin:], p.EncMargin[:])
	copy(data[layout.encSize:], p.EncSize[:])
	binary.LittleEndian.PutUint64(data[layout.lastFundingID:], p.LastFundingID)

	if layout.encFunding >= 0 {
		copy(data[layout.encFunding:], p.EncFunding[:])
	}
	if layout.batchToken >= 0 {
		copy(data[layout.batchToken:], p.BatchToken[:])
	}

	return data, nil
}

// EncodeBatchCheck serializes a batch-check account.
func EncodeBatchCheck(b *BatchCheck) ([]byte, error) {
	if len(b.Members) > BatchCheckMaxMembers {
		return nil, fmt.Errorf("encode batch-check: %d members exceeds %d", len(b.Members), BatchCheckMaxMembers)
	}

	data := make([]byte, batchCheckV1.size)
	copy(data[batchCheckV1.market:], b.Market[:])
	data[batchCheckV1.status] = byte(b.Status)
	data[batchCheckV1.correct] = encodeFlag(b.Correct)
	data[batchCheckV1.count] = byte(len(b.Members))
	for i, m := range b.Members {
		copy(data[batchCheckV1.members+i*32:], m[:])
	}

	return data, nil
}

func encodeFlag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
