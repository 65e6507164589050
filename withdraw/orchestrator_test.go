package withdraw

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/veilpay/veilpay/pool"
	"github.com/veilpay/veilpay/prover"
	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/types"
	"github.com/veilpay/veilpay/web3"
)

type mockChain struct {
	root          *big.Int
	nullifierUsed bool
	withdrawErr   error
	waitErr       error
	submitted     bool
}

func (m *mockChain) GetRoot(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.root), nil
}

func (m *mockChain) IsNullifierUsed(ctx context.Context, nullifierHash *big.Int) (bool, error) {
	return m.nullifierUsed, nil
}

func (m *mockChain) Withdraw(ctx context.Context, proof [types.ProofSize]*big.Int, root, nullifierHash *big.Int, recipient common.Address, amount *big.Int) (*common.Hash, error) {
	if m.withdrawErr != nil {
		return nil, m.withdrawErr
	}
	m.submitted = true
	hash := common.BytesToHash([]byte{0xaa, 0xbb})
	return &hash, nil
}

func (m *mockChain) WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) error {
	return m.waitErr
}

// mockPaths serves a single-entry tree replica.
type mockPaths struct {
	commitment *big.Int
	path       *tree.SiblingPath
}

func (m *mockPaths) LeafIndexOf(commitment *big.Int) (uint64, error) {
	if m.commitment == nil || m.commitment.Cmp(commitment) != 0 {
		return 0, fmt.Errorf("%w: commitment %s", tree.ErrLeafNotFound, commitment.String())
	}
	return m.path.LeafIndex, nil
}

func (m *mockPaths) SiblingPath(index uint64) (*tree.SiblingPath, error) {
	return m.path, nil
}

// mockProver echoes the public inputs back as signals, the way a correct
// witness calculation would.
type mockProver struct {
	proveErr   error
	badSignals bool
}

func (m *mockProver) Prove(ctx context.Context, inputs map[string]any) (*prover.Proof, error) {
	if m.proveErr != nil {
		return nil, m.proveErr
	}
	signals := make([]*big.Int, 0, 4)
	for _, key := range []string{"root", "nullifierHash", "recipient", "amount"} {
		v, ok := new(big.Int).SetString(inputs[key].(string), 10)
		if !ok {
			return nil, fmt.Errorf("bad input %s", key)
		}
		signals = append(signals, v)
	}
	if m.badSignals {
		signals[0] = new(big.Int).Add(signals[0], big.NewInt(1))
	}
	proof := &prover.Proof{PublicSignals: signals}
	for i := range proof.Raw {
		proof.Raw[i] = big.NewInt(int64(i))
	}
	return proof, nil
}

type mockGuard struct {
	err error
}

func (m *mockGuard) CheckNullifierUnused(nullifierHash []byte) error {
	return m.err
}

func testFixture(c *qt.C) (*pool.DepositNote, *mockChain, *mockPaths) {
	note, err := pool.NewDepositNote(big.NewInt(1_000_000))
	c.Assert(err, qt.IsNil)
	path := &tree.SiblingPath{
		Root:      big.NewInt(4242),
		Leaf:      new(big.Int).Set(note.Commitment),
		LeafIndex: 5,
	}
	for i := 0; i < types.TreeDepth; i++ {
		path.PathElements[i] = big.NewInt(int64(i + 1))
		path.PathIndices[i] = i % 2
	}
	chain := &mockChain{root: big.NewInt(4242)}
	paths := &mockPaths{commitment: note.Commitment, path: path}
	return note, chain, paths
}

func TestWithdrawHappyPath(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	recipient := common.BytesToAddress([]byte{0x01})
	receipt, err := o.Withdraw(context.Background(), note.String(), recipient)
	c.Assert(err, qt.IsNil)
	c.Assert(chain.submitted, qt.IsTrue)
	c.Assert(receipt.Confirmed, qt.IsTrue)
	c.Assert(receipt.Recipient, qt.Equals, recipient)
	c.Assert(receipt.Amount.MathBigInt().Cmp(note.Amount), qt.Equals, 0)
	c.Assert(receipt.NullifierHash.MathBigInt().Cmp(note.NullifierHash), qt.Equals, 0)
	c.Assert(receipt.Root.MathBigInt().Int64(), qt.Equals, int64(4242))
}

func TestWithdrawMalformedNote(t *testing.T) {
	c := qt.New(t)
	_, chain, paths := testFixture(c)
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	_, err := o.Withdraw(context.Background(), "not-a-note", common.Address{})
	c.Assert(err, qt.ErrorIs, pool.ErrMalformedNote)
	c.Assert(chain.submitted, qt.IsFalse)
}

func TestWithdrawLocallySpentNullifier(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	o := New(chain, paths, &mockProver{}, &mockGuard{err: storage.ErrNullifierUsed}, time.Second)

	_, err := o.Withdraw(context.Background(), note.String(), common.Address{})
	c.Assert(err, qt.ErrorIs, storage.ErrNullifierUsed)
	c.Assert(chain.submitted, qt.IsFalse)
}

func TestWithdrawChainSpentNullifier(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	chain.nullifierUsed = true
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	_, err := o.Withdraw(context.Background(), note.String(), common.Address{})
	c.Assert(err, qt.ErrorMatches, ".*already spent on chain.*")
	c.Assert(chain.submitted, qt.IsFalse)
}

func TestWithdrawCommitmentNotIndexed(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	paths.commitment = nil
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	_, err := o.Withdraw(context.Background(), note.String(), common.Address{})
	c.Assert(err, qt.ErrorIs, ErrCommitmentNotIndexed)
}

func TestWithdrawRootMismatch(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	chain.root = big.NewInt(9999)
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	_, err := o.Withdraw(context.Background(), note.String(), common.Address{})
	c.Assert(err, qt.ErrorIs, ErrRootMismatch)
	c.Assert(chain.submitted, qt.IsFalse)
}

func TestWithdrawPublicSignalMismatch(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	o := New(chain, paths, &mockProver{badSignals: true}, &mockGuard{}, time.Second)

	_, err := o.Withdraw(context.Background(), note.String(), common.Address{})
	c.Assert(err, qt.ErrorMatches, ".*public signal 0 mismatch.*")
	c.Assert(chain.submitted, qt.IsFalse)
}

func TestWithdrawConfirmationPending(t *testing.T) {
	c := qt.New(t)
	note, chain, paths := testFixture(c)
	chain.waitErr = web3.ErrTxNotConfirmed
	o := New(chain, paths, &mockProver{}, &mockGuard{}, time.Second)

	receipt, err := o.Withdraw(context.Background(), note.String(), common.Address{0x02})
	c.Assert(err, qt.ErrorIs, ErrConfirmationPending)
	c.Assert(receipt, qt.IsNotNil)
	c.Assert(receipt.Confirmed, qt.IsFalse)
	c.Assert(receipt.TxHash, qt.Equals, common.BytesToHash([]byte{0xaa, 0xbb}))
}
