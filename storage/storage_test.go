package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilpay/veilpay/types"
)

func testDeposit(leafIndex uint64, block uint64) *types.DepositEvent {
	commitment := make([]byte, 32)
	big.NewInt(int64(leafIndex + 1_000)).FillBytes(commitment)
	return &types.DepositEvent{
		Commitment:  commitment,
		LeafIndex:   leafIndex,
		Amount:      types.BigIntFrom(big.NewInt(1_000_000)),
		Timestamp:   1700000000 + block,
		BlockNumber: block,
		TxHash:      common.BytesToHash([]byte{byte(leafIndex), 0x01}),
		LogIndex:    uint(leafIndex % 4),
	}
}

func testWithdrawal(nullifier int64, block uint64) *types.WithdrawalEvent {
	hash := make([]byte, 32)
	big.NewInt(nullifier).FillBytes(hash)
	return &types.WithdrawalEvent{
		Recipient:     common.BytesToAddress([]byte{0xaa}),
		NullifierHash: hash,
		Amount:        types.BigIntFrom(big.NewInt(1_000_000)),
		Timestamp:     1700000000 + block,
		BlockNumber:   block,
		TxHash:        common.BytesToHash([]byte{byte(nullifier), 0x02}),
		LogIndex:      0,
	}
}

func TestCursor(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	last, err := stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(0))

	c.Assert(stg.CommitScan(&ScanBatch{ToBlock: 1234}), qt.IsNil)
	last, err = stg.LastBlockScanned()
	c.Assert(err, qt.IsNil)
	c.Assert(last, qt.Equals, uint64(1234))
}

func TestCommitScanDeposits(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	batch := &ScanBatch{
		Deposits: []*types.DepositEvent{testDeposit(0, 10), testDeposit(1, 11)},
		ToBlock:  20,
	}
	c.Assert(stg.CommitScan(batch), qt.IsNil)

	count, err := stg.DepositCount()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(2))

	dep, err := stg.Deposit(1)
	c.Assert(err, qt.IsNil)
	c.Assert(dep.LeafIndex, qt.Equals, uint64(1))
	c.Assert(dep.BlockNumber, qt.Equals, uint64(11))
	c.Assert(dep.Amount.MathBigInt().Int64(), qt.Equals, int64(1_000_000))

	_, err = stg.Deposit(5)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestCommitScanIdempotent(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	dep := testDeposit(0, 10)
	c.Assert(stg.CommitScan(&ScanBatch{Deposits: []*types.DepositEvent{dep}, ToBlock: 15}), qt.IsNil)

	processed, err := stg.IsProcessed(dep.TxHash, dep.LogIndex)
	c.Assert(err, qt.IsNil)
	c.Assert(processed, qt.IsTrue)

	// re-scanning the same range stores nothing twice
	c.Assert(stg.CommitScan(&ScanBatch{Deposits: []*types.DepositEvent{dep}, ToBlock: 15}), qt.IsNil)
	count, err := stg.DepositCount()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestReplayDeposits(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	const n = 5
	deposits := make([]*types.DepositEvent, n)
	for i := range deposits {
		deposits[i] = testDeposit(uint64(i), uint64(10+i))
	}
	c.Assert(stg.CommitScan(&ScanBatch{Deposits: deposits, ToBlock: 20}), qt.IsNil)

	var replayed []uint64
	err := stg.ReplayDeposits(func(dep *types.DepositEvent) error {
		replayed = append(replayed, dep.LeafIndex)
		return nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(replayed, qt.DeepEquals, []uint64{0, 1, 2, 3, 4})
}

func TestReplayDetectsGap(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	// leaf 1 is missing
	c.Assert(stg.CommitScan(&ScanBatch{
		Deposits: []*types.DepositEvent{testDeposit(0, 10), testDeposit(2, 12)},
		ToBlock:  20,
	}), qt.IsNil)

	err := stg.ReplayDeposits(func(*types.DepositEvent) error { return nil })
	c.Assert(err, qt.IsNotNil)
}

func TestNullifiers(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	w := testWithdrawal(777, 30)
	c.Assert(stg.CommitScan(&ScanBatch{Withdrawals: []*types.WithdrawalEvent{w}, ToBlock: 35}), qt.IsNil)

	used, err := stg.IsNullifierUsed(w.NullifierHash)
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsTrue)

	// big.Int.Bytes() drops leading zeros; the lookup must still hit
	used, err = stg.IsNullifierUsed(big.NewInt(777).Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsTrue)

	got, err := stg.Nullifier(big.NewInt(777).Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(got.BlockNumber, qt.Equals, uint64(30))

	used, err = stg.IsNullifierUsed(big.NewInt(778).Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsFalse)

	c.Assert(stg.CheckNullifierUnused(big.NewInt(778).Bytes()), qt.IsNil)
	c.Assert(stg.CheckNullifierUnused(big.NewInt(777).Bytes()), qt.ErrorIs, ErrNullifierUsed)
}

func TestAnnouncements(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	events := []*types.AnnouncementEvent{
		{SchemeID: 1, BlockNumber: 10, LogIndex: 0, TxHash: common.BytesToHash([]byte{1}),
			EphemeralPubKey: make(types.HexBytes, 33)},
		{SchemeID: 1, BlockNumber: 10, LogIndex: 1, TxHash: common.BytesToHash([]byte{2}),
			EphemeralPubKey: make(types.HexBytes, 33)},
		{SchemeID: 1, BlockNumber: 25, LogIndex: 0, TxHash: common.BytesToHash([]byte{3}),
			EphemeralPubKey: make(types.HexBytes, 33)},
	}
	c.Assert(stg.CommitScan(&ScanBatch{Announcements: events, ToBlock: 30}), qt.IsNil)

	all, err := stg.Announcements(0, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 3)
	c.Assert(all[0].BlockNumber, qt.Equals, uint64(10))
	c.Assert(all[2].BlockNumber, qt.Equals, uint64(25))

	fromBlock, err := stg.Announcements(11, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(fromBlock, qt.HasLen, 1)
	c.Assert(fromBlock[0].BlockNumber, qt.Equals, uint64(25))

	limited, err := stg.Announcements(0, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(limited, qt.HasLen, 2)
}
