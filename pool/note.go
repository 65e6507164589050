// Package pool implements the commitment scheme of the shielded pool:
// deposit note generation, commitment and nullifier-hash computation, and
// the portable note string a depositor must keep to withdraw later.
//
// Commitments are Poseidon(secret, nullifier, amount); the nullifier hash is
// Poseidon(nullifier) and is deliberately independent of the amount, so an
// observer of a withdrawal learns nothing about the deposited value from it.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/veilpay/veilpay/crypto/hash/poseidon"
	"github.com/veilpay/veilpay/util"
)

// NotePrefix tags the portable note string format.
const NotePrefix = "veilpay-note-v1"

// ErrMalformedNote is returned when a note string or JSON blob does not
// match the expected schema. It is a protocol error, never retried.
var ErrMalformedNote = errors.New("malformed deposit note")

// DepositNote is the sole durable credential for a future withdrawal.
// Losing it is unrecoverable: neither the pool contract nor this node can
// reconstruct secret or nullifier from chain data.
type DepositNote struct {
	Secret        *big.Int `json:"secret"`
	Nullifier     *big.Int `json:"nullifier"`
	Amount        *big.Int `json:"amount"`
	Commitment    *big.Int `json:"commitment"`
	NullifierHash *big.Int `json:"nullifierHash"`
}

// NewDepositNote samples a fresh note for the given amount. Secret and
// nullifier are uniform field elements of the snark scalar field.
func NewDepositNote(amount *big.Int) (*DepositNote, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrMalformedNote)
	}
	secret := util.RandomFieldElement()
	nullifier := util.RandomFieldElement()
	commitment, err := ComputeCommitment(secret, nullifier, amount)
	if err != nil {
		return nil, err
	}
	nullifierHash, err := ComputeNullifierHash(nullifier)
	if err != nil {
		return nil, err
	}
	return &DepositNote{
		Secret:        secret,
		Nullifier:     nullifier,
		Amount:        new(big.Int).Set(amount),
		Commitment:    commitment,
		NullifierHash: nullifierHash,
	}, nil
}

// ComputeCommitment returns Poseidon(secret, nullifier, amount). It is a
// pure function: the deposit contract computes the identical value.
func ComputeCommitment(secret, nullifier, amount *big.Int) (*big.Int, error) {
	return poseidon.Hash(util.BigToFF(secret), util.BigToFF(nullifier), util.BigToFF(amount))
}

// ComputeNullifierHash returns Poseidon(nullifier). Amount independent.
func ComputeNullifierHash(nullifier *big.Int) (*big.Int, error) {
	return poseidon.Hash(util.BigToFF(nullifier))
}

// String encodes the note in its portable dot-separated form:
// veilpay-note-v1.<secret hex>.<nullifier hex>.<amount decimal>
func (n *DepositNote) String() string {
	return fmt.Sprintf("%s.%064x.%064x.%s", NotePrefix, n.Secret, n.Nullifier, n.Amount.String())
}

// ParseNote decodes a portable note string, recomputing commitment and
// nullifier hash from its fields.
func ParseNote(s string) (*DepositNote, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 || parts[0] != NotePrefix {
		return nil, fmt.Errorf("%w: expected %s.<secret>.<nullifier>.<amount>", ErrMalformedNote, NotePrefix)
	}
	secret, ok := new(big.Int).SetString(parts[1], 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid secret", ErrMalformedNote)
	}
	nullifier, ok := new(big.Int).SetString(parts[2], 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid nullifier", ErrMalformedNote)
	}
	amount, ok := new(big.Int).SetString(parts[3], 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid amount", ErrMalformedNote)
	}
	commitment, err := ComputeCommitment(secret, nullifier, amount)
	if err != nil {
		return nil, err
	}
	nullifierHash, err := ComputeNullifierHash(nullifier)
	if err != nil {
		return nil, err
	}
	return &DepositNote{
		Secret:        secret,
		Nullifier:     nullifier,
		Amount:        amount,
		Commitment:    commitment,
		NullifierHash: nullifierHash,
	}, nil
}
