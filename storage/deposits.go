package storage

import (
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/veilpay/veilpay/types"
)

// Deposit returns the deposit stored at the given leaf index.
func (s *Storage) Deposit(leafIndex uint64) (*types.DepositEvent, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, depositPrefix)
	data, err := rTx.Get(leafKey(leafIndex))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read deposit %d: %w", leafIndex, err)
	}
	d := &types.DepositEvent{}
	if err := decodeArtifact(data, d); err != nil {
		return nil, fmt.Errorf("decode deposit %d: %w", leafIndex, err)
	}
	return d, nil
}

// DepositCount returns the number of stored deposits.
func (s *Storage) DepositCount() (uint64, error) {
	var count uint64
	rTx := prefixeddb.NewPrefixedReader(s.db, depositPrefix)
	if err := rTx.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		return 0, fmt.Errorf("count deposits: %w", err)
	}
	return count, nil
}

// ReplayDeposits iterates all deposits in strictly increasing leaf index
// order, which is the contract's insertion order. It is how the tree
// replica is rebuilt after a restart. Iteration stops at the first callback
// error, and a gap in the leaf index sequence is reported as corruption.
func (s *Storage) ReplayDeposits(fn func(*types.DepositEvent) error) error {
	rTx := prefixeddb.NewPrefixedReader(s.db, depositPrefix)
	var next uint64
	var cbErr error
	if err := rTx.Iterate(nil, func(_, v []byte) bool {
		d := &types.DepositEvent{}
		if err := decodeArtifact(v, d); err != nil {
			cbErr = fmt.Errorf("decode deposit: %w", err)
			return false
		}
		if d.LeafIndex != next {
			cbErr = fmt.Errorf("deposit log gap: expected leaf %d, found %d", next, d.LeafIndex)
			return false
		}
		next++
		if err := fn(d); err != nil {
			cbErr = err
			return false
		}
		return true
	}); err != nil {
		return fmt.Errorf("iterate deposits: %w", err)
	}
	return cbErr
}
