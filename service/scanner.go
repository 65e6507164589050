// Package service wires the long-running pieces of the node: the chain
// scanner that keeps the tree replica and storage in sync with the pool
// contract, and the HTTP API server. Services follow the same lifecycle:
// Start(ctx) spawns the background work, Stop cancels it.
package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/types"
	"github.com/veilpay/veilpay/web3"
)

// maxBlockRange bounds a single eth_getLogs call. RPC providers reject or
// truncate unbounded ranges.
const maxBlockRange = 2000

// ChainSource is the slice of the web3 bindings the scanner needs.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterPoolEvents(ctx context.Context, from, to uint64) (*web3.PoolEvents, error)
}

// Scanner tails the pool contract logs and applies them, in log order, to
// the tree replica and the storage. It is the only writer of both: every
// other component reads. A scanned range is committed atomically together
// with its cursor, so a crash mid-scan replays the whole range and the
// dedup index drops the events already seen.
type Scanner struct {
	chain      ChainSource
	storage    *storage.Storage
	tree       *tree.Tree
	startBlock uint64
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewScanner creates a Scanner. startBlock is the pool contract deployment
// block; scanning never goes below it.
func NewScanner(chain ChainSource, stg *storage.Storage, t *tree.Tree, startBlock uint64, interval time.Duration) *Scanner {
	return &Scanner{
		chain:      chain,
		storage:    stg,
		tree:       t,
		startBlock: startBlock,
		interval:   interval,
	}
}

// Start rebuilds the tree replica from the stored deposits, then begins
// tailing the chain. It returns an error if the service is already running
// or the replay fails.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("service already running")
	}

	if err := s.replay(); err != nil {
		return fmt.Errorf("replay deposits: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
	return nil
}

// Stop halts the scanner.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// replay feeds every stored deposit back into the in-memory tree, checking
// that storage order and contract-assigned leaf indices agree.
func (s *Scanner) replay() error {
	var count uint64
	start := time.Now()
	if err := s.storage.ReplayDeposits(func(dep *types.DepositEvent) error {
		index, _, err := s.tree.Insert(new(big.Int).SetBytes(dep.Commitment))
		if err != nil {
			return err
		}
		if index != dep.LeafIndex {
			return fmt.Errorf("leaf index mismatch on replay: tree %d, stored %d", index, dep.LeafIndex)
		}
		count++
		return nil
	}); err != nil {
		return err
	}
	if count > 0 {
		log.Infow("tree replica rebuilt", "leaves", count,
			"root", s.tree.Root().String(), "took", time.Since(start).String())
	}
	return nil
}

func (s *Scanner) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.scanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			// cursor is untouched on failure, next tick retries the
			// same range
			log.Warnw("chain scan failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scanOnce advances the cursor by at most maxBlockRange blocks, applying
// deposits to the tree before committing the batch. If the commit fails the
// tree is briefly ahead of storage; the retry on the next tick sees those
// leaf positions already filled and only re-attempts the commit.
func (s *Scanner) scanOnce(ctx context.Context) error {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch block number: %w", err)
	}
	last, err := s.storage.LastBlockScanned()
	if err != nil {
		return err
	}
	from := s.startBlock
	if last >= from {
		from = last + 1
	}
	if from > head {
		return nil
	}
	to := min(from+maxBlockRange-1, head)

	events, err := s.chain.FilterPoolEvents(ctx, from, to)
	if err != nil {
		return fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	batch := &storage.ScanBatch{
		Withdrawals:   events.Withdrawals,
		Announcements: events.Announcements,
		ToBlock:       to,
	}
	for _, dep := range events.Deposits {
		seen, err := s.storage.IsProcessed(dep.TxHash, dep.LogIndex)
		if err != nil {
			return err
		}
		if seen {
			log.Debugw("skipping already processed deposit",
				"tx", dep.TxHash.Hex(), "logIndex", dep.LogIndex)
			continue
		}
		commitment := new(big.Int).SetBytes(dep.Commitment)
		// dedup by position, never by commitment value: the contract
		// accepts duplicate commitments at fresh leaf indices
		if dep.LeafIndex < s.tree.LeafCount() {
			// applied by a previous attempt whose commit failed
			stored, err := s.tree.LeafAt(dep.LeafIndex)
			if err != nil {
				return err
			}
			if stored.Cmp(commitment) != 0 {
				return fmt.Errorf("leaf %d mismatch: tree %s, contract %s",
					dep.LeafIndex, stored.String(), commitment.String())
			}
		} else {
			index, root, err := s.tree.Insert(commitment)
			if err != nil {
				return fmt.Errorf("insert commitment: %w", err)
			}
			if index != dep.LeafIndex {
				return fmt.Errorf("leaf index mismatch: tree %d, contract %d", index, dep.LeafIndex)
			}
			log.Debugw("deposit indexed", "leafIndex", index, "root", root.String(),
				"block", dep.BlockNumber)
		}
		batch.Deposits = append(batch.Deposits, dep)
	}

	if err := s.storage.CommitScan(batch); err != nil {
		return fmt.Errorf("commit scan batch: %w", err)
	}
	if n := len(batch.Deposits) + len(batch.Withdrawals) + len(batch.Announcements); n > 0 {
		log.Infow("scanned chain range", "from", from, "to", to, "events", n,
			"deposits", len(batch.Deposits), "withdrawals", len(batch.Withdrawals),
			"announcements", len(batch.Announcements))
	}
	return nil
}
