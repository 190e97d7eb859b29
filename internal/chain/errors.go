package chain

import (
	"errors"
	"fmt"
	"net"
)

// Transport-level failures. All of these are retryable with backoff.
var (
	ErrTimeout        = errors.New("chain: rpc timeout")
	ErrConnReset      = errors.New("chain: connection reset")
	ErrStaleReference = errors.New("chain: stale reference block")
	ErrRateLimited    = errors.New("chain: rate limited")

	// ErrAccountNotFound is returned by FetchAccount for missing or closed
	// accounts. Not retryable but also not a program fault.
	ErrAccountNotFound = errors.New("chain: account not found")
)

// ProgramError is a decoded operation-specific failure returned by the
// ledger program itself. Never retried.
type ProgramError struct {
	Op   string
	Code uint32
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("chain: program error in %s: code %d (%s)", e.Op, e.Code, programErrorName(e.Code))
}

// Well-known custom error codes emitted by the DEX program.
const (
	CodeInsufficientBalance uint32 = 6000
	CodeSchemaMismatch      uint32 = 6001
	CodeAlreadySettled      uint32 = 6002
	CodeNotMatched          uint32 = 6003
	CodeBatchNotVerified    uint32 = 6004
)

func programErrorName(code uint32) string {
	switch code {
	case CodeInsufficientBalance:
		return "InsufficientBalance"
	case CodeSchemaMismatch:
		return "SchemaMismatch"
	case CodeAlreadySettled:
		return "AlreadySettled"
	case CodeNotMatched:
		return "NotMatched"
	case CodeBatchNotVerified:
		return "BatchNotVerified"
	default:
		return "Unknown"
	}
}

// IsRetryable classifies an error per the transport/program taxonomy.
// Program errors and decode failures are fatal for the work item; transport
// errors may be retried with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var progErr *ProgramError
	if errors.As(err, &progErr) {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) {
		return false
	}

	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnReset) ||
		errors.Is(err, ErrStaleReference) ||
		errors.Is(err, ErrRateLimited) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
