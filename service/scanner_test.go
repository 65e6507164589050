package service

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/types"
	"github.com/veilpay/veilpay/web3"
)

// fakeChain serves canned events for any requested range.
type fakeChain struct {
	head   uint64
	events map[uint64]*web3.PoolEvents // keyed by from block
	calls  []string
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterPoolEvents(ctx context.Context, from, to uint64) (*web3.PoolEvents, error) {
	f.calls = append(f.calls, fmt.Sprintf("%d-%d", from, to))
	if ev, ok := f.events[from]; ok {
		return ev, nil
	}
	return &web3.PoolEvents{}, nil
}

func depositAt(leafIndex uint64, block uint64, commitment int64) *types.DepositEvent {
	var buf [32]byte
	big.NewInt(commitment).FillBytes(buf[:])
	return &types.DepositEvent{
		Commitment:  buf[:],
		LeafIndex:   leafIndex,
		Amount:      types.BigIntFrom(big.NewInt(1000)),
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(leafIndex + 1)}),
		LogIndex:    uint(leafIndex),
	}
}

func testScanner(t *testing.T, chain ChainSource, startBlock uint64) (*Scanner, *storage.Storage, *tree.Tree) {
	t.Helper()
	stg := storage.New(metadb.NewTest(t))
	tr, err := tree.New()
	qt.Assert(t, err, qt.IsNil)
	return NewScanner(chain, stg, tr, startBlock, time.Minute), stg, tr
}

func TestScanOnceAppliesDeposits(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{
		head: 150,
		events: map[uint64]*web3.PoolEvents{
			100: {Deposits: []*types.DepositEvent{
				depositAt(0, 110, 41),
				depositAt(1, 120, 42),
			}},
		},
	}
	s, stg, tr := testScanner(t, chain, 100)

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(chain.calls, qt.DeepEquals, []string{"100-150"})
	c.Assert(tr.LeafCount(), qt.Equals, uint64(2))

	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(150))

	index, err := tr.LeafIndexOf(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, uint64(1))

	// next pass is already at the head, no new range is fetched
	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(chain.calls, qt.DeepEquals, []string{"100-150"})
	c.Assert(tr.LeafCount(), qt.Equals, uint64(2))
}

func TestScanOnceBoundsBlockRange(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{head: 10_000}
	s, stg, _ := testScanner(t, chain, 1)

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(chain.calls, qt.DeepEquals, []string{"1-2000"})

	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(2000))

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(chain.calls, qt.DeepEquals, []string{"1-2000", "2001-4000"})
}

func TestScanOnceSkipsProcessedDeposits(t *testing.T) {
	c := qt.New(t)
	dep := depositAt(0, 110, 41)
	chain := &fakeChain{
		head:   150,
		events: map[uint64]*web3.PoolEvents{100: {Deposits: []*types.DepositEvent{dep}}},
	}
	s, stg, tr := testScanner(t, chain, 100)

	// the event was committed by an earlier run, but the cursor was not
	// advanced past it (e.g. reorg-safety re-scan)
	c.Assert(stg.CommitScan(&storage.ScanBatch{
		Deposits: []*types.DepositEvent{dep},
		ToBlock:  99,
	}), qt.IsNil)
	_, _, err := tr.Insert(big.NewInt(41))
	c.Assert(err, qt.IsNil)

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(tr.LeafCount(), qt.Equals, uint64(1))
}

func TestScanOnceRetryAfterFailedCommit(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{
		head:   150,
		events: map[uint64]*web3.PoolEvents{100: {Deposits: []*types.DepositEvent{depositAt(0, 110, 41)}}},
	}
	s, stg, tr := testScanner(t, chain, 100)

	// the commitment is already in the tree from an attempt whose storage
	// commit failed; the retry must not insert it twice
	_, _, err := tr.Insert(big.NewInt(41))
	c.Assert(err, qt.IsNil)

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(tr.LeafCount(), qt.Equals, uint64(1))
	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(150))
}

func TestScanOnceDuplicateCommitmentDeposits(t *testing.T) {
	c := qt.New(t)
	// the contract accepts a repeated commitment and assigns it a fresh
	// leaf; both leaves must land in the replica
	chain := &fakeChain{
		head: 150,
		events: map[uint64]*web3.PoolEvents{
			100: {Deposits: []*types.DepositEvent{
				depositAt(0, 110, 41),
				depositAt(1, 120, 41),
			}},
		},
	}
	s, stg, tr := testScanner(t, chain, 100)

	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	c.Assert(tr.LeafCount(), qt.Equals, uint64(2))
	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(150))

	// lookups resolve to the first occurrence
	index, err := tr.LeafIndexOf(big.NewInt(41))
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, uint64(0))
}

func TestScanOnceDetectsLeafIndexMismatch(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{
		head: 150,
		events: map[uint64]*web3.PoolEvents{
			// contract claims index 5 for the very first leaf
			100: {Deposits: []*types.DepositEvent{depositAt(5, 110, 41)}},
		},
	}
	s, stg, _ := testScanner(t, chain, 100)

	err := s.scanOnce(context.Background())
	c.Assert(err, qt.ErrorMatches, ".*leaf index mismatch.*")

	// cursor untouched on failure
	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(0))
}

func TestReplayRebuildsTree(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{
		head: 150,
		events: map[uint64]*web3.PoolEvents{
			100: {Deposits: []*types.DepositEvent{
				depositAt(0, 110, 41),
				depositAt(1, 120, 42),
				depositAt(2, 130, 43),
			}},
		},
	}
	s, stg, tr := testScanner(t, chain, 100)
	c.Assert(s.scanOnce(context.Background()), qt.IsNil)
	wantRoot := tr.Root()

	// a fresh process: empty tree, same storage
	fresh, err := tree.New()
	c.Assert(err, qt.IsNil)
	s2 := NewScanner(chain, stg, fresh, 100, time.Minute)
	c.Assert(s2.replay(), qt.IsNil)
	c.Assert(fresh.LeafCount(), qt.Equals, uint64(3))
	c.Assert(fresh.Root().Cmp(wantRoot), qt.Equals, 0)
}

func TestScannerStartStop(t *testing.T) {
	c := qt.New(t)
	chain := &fakeChain{head: 0}
	s, _, _ := testScanner(t, chain, 0)

	c.Assert(s.Start(context.Background()), qt.IsNil)
	c.Assert(s.Start(context.Background()), qt.ErrorMatches, "service already running")
	s.Stop()
	c.Assert(s.Start(context.Background()), qt.IsNil)
	s.Stop()
}
