package record

import (
	"fmt"

	"PerpCrank/internal/chain"
)

// Side of an order or position.
type Side uint8

const (
	SideLong  Side = 0
	SideShort Side = 1
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func parseSide(b byte) (Side, error) {
	switch Side(b) {
	case SideLong, SideShort:
		return Side(b), nil
	default:
		return 0, fmt.Errorf("unknown side byte %d", b)
	}
}

// Status is the lifecycle state stamped on a record by the ledger program.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClosed
	StatusLiquidated
	StatusAutoDeleveraged
	StatusPendingCheck
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	case StatusAutoDeleveraged:
		return "auto_deleveraged"
	case StatusPendingCheck:
		return "pending_check"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func parseStatus(b byte) (Status, error) {
	if b > uint8(StatusPendingCheck) {
		return 0, fmt.Errorf("unknown status byte %d", b)
	}
	return Status(b), nil
}

// MatchToken is the opaque correlation token the MPC service stamps on two
// records it has matched. The all-zero token means "not yet matched" and is
// never a valid pairing key.
type MatchToken [32]byte

var zeroToken MatchToken

func (t MatchToken) IsZero() bool {
	return t == zeroToken
}

// Blob64 is an opaque 64-byte encrypted payload field. The crank never
// interprets these, it only moves them between accounts and the MPC service.
type Blob64 [64]byte

// Order is a decoded order account.
type Order struct {
	Address  chain.Address
	Version  uint8
	Owner    chain.Address
	Market   chain.Address
	Side     Side
	Status   Status
	Verified bool
	Filled   bool
	EncPrice Blob64
	EncSize  Blob64
	Token    MatchToken

	// v2 only
	Nonce     [32]byte
	ExpiresAt int64
}

// Position is a decoded position account.
type Position struct {
	Address  chain.Address
	Version  uint8
	Owner    chain.Address
	Market   chain.Address
	Side     Side
	Status   Status
	Verified bool

	// Lifecycle flags set by the program and MPC callbacks.
	LiquidationFlagged  bool
	FundingRequested    bool
	MarginChangePending bool
	ClosePending        bool

	EncMargin     Blob64
	EncSize       Blob64
	LastFundingID uint64

	// v2 only
	EncFunding Blob64
	BatchToken MatchToken
}

// BatchCheck is a decoded liquidation batch-check account. The program
// creates it when a batch-check intent is submitted; the MPC callback fills
// in Status and Correct.
type BatchCheck struct {
	Address chain.Address
	Market  chain.Address
	Status  Status
	Correct bool
	Members []chain.Address
}

// HasMember reports whether addr is part of the checked batch.
func (b *BatchCheck) HasMember(addr chain.Address) bool {
	for _, m := range b.Members {
		if m == addr {
			return true
		}
	}
	return false
}
