package storage

import (
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/veilpay/veilpay/types"
)

// ErrNullifierUsed is returned when a nullifier hash is already in the
// spent set. The on-chain contract is the authoritative arbiter; this
// off-chain rejection only saves the caller a wasted proof and gas.
var ErrNullifierUsed = errors.New("nullifier already used")

// nullifierKey left-pads a hash to 32 bytes, so that big.Int.Bytes()
// queries (which drop leading zeros) hit the same key as the 32-byte log
// payloads the scanner stores.
func nullifierKey(nullifierHash []byte) []byte {
	if len(nullifierHash) >= 32 {
		return nullifierHash
	}
	k := make([]byte, 32)
	copy(k[32-len(nullifierHash):], nullifierHash)
	return k
}

// Nullifier returns the withdrawal that spent the given nullifier hash, or
// ErrNotFound when it is unspent.
func (s *Storage) Nullifier(nullifierHash []byte) (*types.WithdrawalEvent, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix)
	data, err := rTx.Get(nullifierKey(nullifierHash))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read nullifier: %w", err)
	}
	w := &types.WithdrawalEvent{}
	if err := decodeArtifact(data, w); err != nil {
		return nil, fmt.Errorf("decode withdrawal: %w", err)
	}
	return w, nil
}

// IsNullifierUsed reports whether the nullifier hash is in the spent set.
func (s *Storage) IsNullifierUsed(nullifierHash []byte) (bool, error) {
	_, err := s.Nullifier(nullifierHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckNullifierUnused runs a serialized unused-check for a withdrawal
// attempt. Concurrent orchestrators for the same note serialize here, so
// at most one of them proceeds past the local check.
func (s *Storage) CheckNullifierUnused(nullifierHash []byte) error {
	s.nullifierLock.Lock()
	defer s.nullifierLock.Unlock()
	used, err := s.IsNullifierUsed(nullifierHash)
	if err != nil {
		return err
	}
	if used {
		return ErrNullifierUsed
	}
	return nil
}
