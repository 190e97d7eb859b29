package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Address is a 32-byte account or program identity on the external ledger.
type Address [32]byte

// ZeroAddress is the all-zero address. Correlation tokens and optional
// account references use it to mean "unset".
var ZeroAddress Address

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns a truncated form for log fields.
func (a Address) Short() string {
	s := a.String()
	return s[:8] + ".." + s[len(s)-6:]
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// ParseAddress decodes a 64-char hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("parse address: got %d bytes, want %d", len(raw), len(a))
	}
	copy(a[:], raw)
	return a, nil
}

// AddressFromBytes copies a fixed-width byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != len(a) {
		return a, fmt.Errorf("address from bytes: got %d bytes, want %d", len(b), len(a))
	}
	copy(a[:], b)
	return a, nil
}

// AccountMeta is one account reference carried by an instruction.
type AccountMeta struct {
	Address    Address
	IsSigner   bool
	IsWritable bool
}

// Instruction targets one ledger program with an ordered account list and an
// opaque payload. The first 8 bytes of Data are the operation discriminator.
type Instruction struct {
	Program  Address
	Accounts []AccountMeta
	Data     []byte
}

// Discriminator derives the stable 8-byte operation tag from the operation
// name. The ledger program validates instruction payloads against the same
// derivation, so the name must match the on-ledger operation exactly.
func Discriminator(opName string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + opName))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// NewInstruction assembles an instruction with the discriminator for opName
// prepended to args.
func NewInstruction(program Address, opName string, accounts []AccountMeta, args []byte) Instruction {
	d := Discriminator(opName)
	data := make([]byte, 0, len(d)+len(args))
	data = append(data, d[:]...)
	data = append(data, args...)
	return Instruction{
		Program:  program,
		Accounts: accounts,
		Data:     data,
	}
}

// DeriveAddress computes the deterministic program-derived address for a
// seed list. Both sides of the protocol derive record addresses this way, so
// the crank can locate a record without an index scan.
func DeriveAddress(program Address, seeds ...[]byte) Address {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte("derived"))
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// Signature identifies a submitted transaction.
type Signature string

// Commitment is the confirmation depth to await on submit.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)
