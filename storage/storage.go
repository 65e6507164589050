// Package storage persists the node's replayable chain state in a prefixed
// key-value store: the scan cursor, the ordered deposit log that feeds the
// Merkle tree replica, the nullifier set and the announcement log. All logs
// are append-only; a fresh node can rebuild every bit of derived state by
// replaying them from genesis. The following prefixes are used:
//   - 'c/' for the scanner cursor
//   - 'd/' for deposits, keyed by big-endian leaf index
//   - 'n/' for spent nullifier hashes
//   - 'a/' for announcements, keyed by block number and log index
//   - 'e/' for processed event keys (txHash, logIndex)
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/veilpay/veilpay/types"
)

var (
	cursorPrefix       = []byte("c/")
	depositPrefix      = []byte("d/")
	nullifierPrefix    = []byte("n/")
	announcementPrefix = []byte("a/")
	seenPrefix         = []byte("e/")

	cursorKey = []byte("lastBlockScanned")
)

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps the database with typed accessors for the node's artifacts.
// Writes related to one scanned block range go through CommitScan so the
// cursor never advances past events that were not fully persisted.
type Storage struct {
	db db.Database
	// serializes nullifier check-then-act sequences from concurrent
	// withdrawal attempts
	nullifierLock sync.Mutex
}

// New creates a new Storage instance on the given database.
func New(database db.Database) *Storage {
	return &Storage{db: database}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		// nothing the caller can do at shutdown
		_ = err
	}
}

// LastBlockScanned returns the durable scanner cursor, or 0 when the node
// has never scanned.
func (s *Storage) LastBlockScanned() (uint64, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, cursorPrefix)
	data, err := rTx.Get(cursorKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt cursor value (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// eventKey builds the idempotency key of a chain event.
func eventKey(txHash common.Hash, logIndex uint) []byte {
	k := make([]byte, common.HashLength+4)
	copy(k, txHash[:])
	binary.BigEndian.PutUint32(k[common.HashLength:], uint32(logIndex))
	return k
}

// IsProcessed reports whether the event identified by (txHash, logIndex)
// was already committed in an earlier scan.
func (s *Storage) IsProcessed(txHash common.Hash, logIndex uint) (bool, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, seenPrefix)
	if _, err := rTx.Get(eventKey(txHash, logIndex)); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ScanBatch is the outcome of scanning one bounded block range. It is
// committed atomically together with the advanced cursor.
type ScanBatch struct {
	Deposits      []*types.DepositEvent
	Withdrawals   []*types.WithdrawalEvent
	Announcements []*types.AnnouncementEvent
	ToBlock       uint64
}

// CommitScan persists a scanned range in a single write transaction:
// events, their idempotency keys and the new cursor either all land or none
// do. Events whose key was already seen are silently skipped, which makes
// re-scanning a range after a restart a no-op.
func (s *Storage) CommitScan(batch *ScanBatch) error {
	wTx := s.db.WriteTx()
	defer wTx.Discard()

	seen := prefixeddb.NewPrefixedWriteTx(wTx, seenPrefix)
	deposits := prefixeddb.NewPrefixedWriteTx(wTx, depositPrefix)
	withdrawals := prefixeddb.NewPrefixedWriteTx(wTx, nullifierPrefix)
	announcements := prefixeddb.NewPrefixedWriteTx(wTx, announcementPrefix)

	for _, d := range batch.Deposits {
		processed, err := s.IsProcessed(d.TxHash, d.LogIndex)
		if err != nil {
			return fmt.Errorf("check deposit: %w", err)
		}
		if processed {
			continue
		}
		val, err := encodeArtifact(d)
		if err != nil {
			return fmt.Errorf("encode deposit: %w", err)
		}
		if err := deposits.Set(leafKey(d.LeafIndex), val); err != nil {
			return fmt.Errorf("store deposit: %w", err)
		}
		if err := seen.Set(eventKey(d.TxHash, d.LogIndex), []byte{}); err != nil {
			return err
		}
	}
	for _, w := range batch.Withdrawals {
		processed, err := s.IsProcessed(w.TxHash, w.LogIndex)
		if err != nil {
			return fmt.Errorf("check withdrawal: %w", err)
		}
		if processed {
			continue
		}
		val, err := encodeArtifact(w)
		if err != nil {
			return fmt.Errorf("encode withdrawal: %w", err)
		}
		if err := withdrawals.Set(nullifierKey(w.NullifierHash), val); err != nil {
			return fmt.Errorf("store withdrawal: %w", err)
		}
		if err := seen.Set(eventKey(w.TxHash, w.LogIndex), []byte{}); err != nil {
			return err
		}
	}
	for _, a := range batch.Announcements {
		processed, err := s.IsProcessed(a.TxHash, a.LogIndex)
		if err != nil {
			return fmt.Errorf("check announcement: %w", err)
		}
		if processed {
			continue
		}
		val, err := encodeArtifact(a)
		if err != nil {
			return fmt.Errorf("encode announcement: %w", err)
		}
		if err := announcements.Set(announcementKey(a.BlockNumber, a.LogIndex), val); err != nil {
			return fmt.Errorf("store announcement: %w", err)
		}
		if err := seen.Set(eventKey(a.TxHash, a.LogIndex), []byte{}); err != nil {
			return err
		}
	}

	cursor := prefixeddb.NewPrefixedWriteTx(wTx, cursorPrefix)
	cursorVal := make([]byte, 8)
	binary.BigEndian.PutUint64(cursorVal, batch.ToBlock)
	if err := cursor.Set(cursorKey, cursorVal); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return wTx.Commit()
}

func leafKey(leafIndex uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, leafIndex)
	return k
}

func announcementKey(blockNumber uint64, logIndex uint) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, blockNumber)
	binary.BigEndian.PutUint32(k[8:], uint32(logIndex))
	return k
}
