package chain

import (
	"context"
)

// MemcmpFilter matches accounts whose data equals Bytes at Offset.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// AccountFilter narrows an account scan server-side. DataSize of zero means
// any size. All memcmp filters must match.
type AccountFilter struct {
	DataSize uint64
	Memcmp   []MemcmpFilter
}

// KeyedAccount is one (address, raw data) pair returned by a scan.
type KeyedAccount struct {
	Address Address
	Data    []byte
}

// Client is the external ledger boundary. Implementations wrap the actual
// RPC transport; cranks and sagas only ever see this interface.
type Client interface {
	// ScanAccounts returns all accounts owned by program matching filter.
	ScanAccounts(ctx context.Context, program Address, filter AccountFilter) ([]KeyedAccount, error)

	// FetchAccount reads a single account. Returns ErrAccountNotFound if the
	// account does not exist or has been closed.
	FetchAccount(ctx context.Context, addr Address) (*KeyedAccount, error)

	// SubmitTransaction submits the ordered instruction list and waits for
	// the requested commitment level.
	SubmitTransaction(ctx context.Context, instrs []Instruction, commitment Commitment) (Signature, error)
}

// Matches reports whether raw account data satisfies the filter. Used by
// in-memory fakes and by callers that re-check locally after a fetch.
func (f AccountFilter) Matches(data []byte) bool {
	if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
		return false
	}
	for _, m := range f.Memcmp {
		end := m.Offset + uint64(len(m.Bytes))
		if end > uint64(len(data)) {
			return false
		}
		if string(data[m.Offset:end]) != string(m.Bytes) {
			return false
		}
	}
	return true
}
