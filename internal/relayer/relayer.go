package relayer

import (
	"context"
	"errors"
	"fmt"

	"PerpCrank/internal/chain"
)

// Kind tags which settlement leg a transfer belongs to.
type Kind string

const (
	KindBase  Kind = "base"
	KindQuote Kind = "quote"
)

// TransferRequest asks the privacy relayer to move value between two ledger
// identities. Amount is in the asset's native units.
type TransferRequest struct {
	Sender    chain.Address
	Recipient chain.Address
	Amount    uint64
	Asset     chain.Address
	Kind      Kind
}

// Reverse returns the compensating transfer: sender and recipient swapped,
// identical amount, asset, and kind.
func (r TransferRequest) Reverse() TransferRequest {
	return TransferRequest{
		Sender:    r.Recipient,
		Recipient: r.Sender,
		Amount:    r.Amount,
		Asset:     r.Asset,
		Kind:      r.Kind,
	}
}

// Result carries the relayer's opaque transfer identifier, recorded
// on-ledger so the settlement is auditable.
type Result struct {
	TransferID string
}

// ErrTransferRejected means the relayer refused the transfer outright. Not
// retryable: the refusal is deterministic for the given request.
var ErrTransferRejected = errors.New("relayer: transfer rejected")

// RejectionError wraps the relayer's reason for a rejected transfer.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("relayer: transfer rejected: %s", e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrTransferRejected }

// Client is the relayer boundary. The relayer has no atomic multi-leg
// primitive: each call moves exactly one leg, and the caller owns
// compensation when a later leg fails.
type Client interface {
	ExecuteTransfer(ctx context.Context, req TransferRequest) (Result, error)
}
