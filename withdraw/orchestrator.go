// Package withdraw orchestrates a shielded pool withdrawal: parse the
// deposit note, fetch a sibling path from the tree replica, cross-check the
// replica root against the chain, build the circuit witness, prove, submit
// and wait for confirmation. Each stage fails with a typed error so callers
// can tell protocol errors (never retry) from consistency errors (retry
// after the scanner catches up) and liveness conditions (poll).
package withdraw

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay/pool"
	"github.com/veilpay/veilpay/prover"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/types"
	"github.com/veilpay/veilpay/web3"
)

var (
	// ErrCommitmentNotIndexed means the note's commitment has no leaf in
	// the replica yet, usually indexer lag. Retry, do not treat as fatal.
	ErrCommitmentNotIndexed = errors.New("commitment not indexed")
	// ErrRootMismatch means the replica root diverged from the chain, or
	// was evicted from the contract's history. Proving against it would
	// only waste the expensive proving step.
	ErrRootMismatch = errors.New("replica root does not match chain root")
	// ErrConfirmationPending means the withdrawal transaction was
	// submitted but not yet confirmed inside the timeout. It may still
	// succeed; poll the transaction, do not resubmit.
	ErrConfirmationPending = errors.New("withdrawal confirmation pending")
)

// ChainClient is the slice of the web3 bindings the orchestrator needs.
type ChainClient interface {
	GetRoot(ctx context.Context) (*big.Int, error)
	IsNullifierUsed(ctx context.Context, nullifierHash *big.Int) (bool, error)
	Withdraw(ctx context.Context, proof [types.ProofSize]*big.Int, root, nullifierHash *big.Int, recipient common.Address, amount *big.Int) (*common.Hash, error)
	WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) error
}

// PathProvider resolves commitments to sibling paths. The tree replica
// implements it.
type PathProvider interface {
	LeafIndexOf(commitment *big.Int) (uint64, error)
	SiblingPath(index uint64) (*tree.SiblingPath, error)
}

// ProofBackend generates the Groth16 proof. prover.Prover implements it.
type ProofBackend interface {
	Prove(ctx context.Context, inputs map[string]any) (*prover.Proof, error)
}

// NullifierGuard runs the advisory local double-spend check. Concurrent
// withdrawal attempts for the same note serialize on it; the contract
// remains the authoritative arbiter.
type NullifierGuard interface {
	CheckNullifierUnused(nullifierHash []byte) error
}

// Orchestrator drives withdrawal attempts. Instances are safe for
// concurrent use across different notes.
type Orchestrator struct {
	chain          ChainClient
	paths          PathProvider
	prover         ProofBackend
	nullifiers     NullifierGuard
	confirmTimeout time.Duration
}

// New creates an Orchestrator. confirmTimeout bounds the Confirm stage.
func New(chain ChainClient, paths PathProvider, prv ProofBackend, nullifiers NullifierGuard, confirmTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		chain:          chain,
		paths:          paths,
		prover:         prv,
		nullifiers:     nullifiers,
		confirmTimeout: confirmTimeout,
	}
}

// Receipt is the outcome of a successful (or still pending) withdrawal.
type Receipt struct {
	TxHash        common.Hash    `json:"txHash"`
	Recipient     common.Address `json:"recipient"`
	Amount        *types.BigInt  `json:"amount"`
	NullifierHash *types.BigInt  `json:"nullifierHash"`
	Root          *types.BigInt  `json:"root"`
	Confirmed     bool           `json:"confirmed"`
}

// Withdraw runs the full state machine for one note. On
// ErrConfirmationPending the returned receipt is non-nil and carries the
// submitted transaction hash.
func (o *Orchestrator) Withdraw(ctx context.Context, noteString string, recipient common.Address) (*Receipt, error) {
	// ParseNote
	note, err := pool.ParseNote(noteString)
	if err != nil {
		return nil, err
	}
	log.Debugw("note parsed", "nullifierHash", note.NullifierHash.String())

	if err := o.nullifiers.CheckNullifierUnused(note.NullifierHash.Bytes()); err != nil {
		return nil, err
	}
	used, err := o.chain.IsNullifierUsed(ctx, note.NullifierHash)
	if err != nil {
		return nil, fmt.Errorf("check nullifier on chain: %w", err)
	}
	if used {
		return nil, fmt.Errorf("nullifier %s: already spent on chain", note.NullifierHash.String())
	}

	// FetchPath
	path, err := o.fetchPath(note)
	if err != nil {
		return nil, err
	}
	log.Debugw("sibling path fetched", "leafIndex", path.LeafIndex, "root", path.Root.String())

	// VerifyRoot
	if err := o.verifyRoot(ctx, path.Root); err != nil {
		return nil, err
	}

	// BuildWitness + Prove
	proof, err := o.prove(ctx, note, path, recipient)
	if err != nil {
		return nil, err
	}

	// Submit
	txHash, err := o.chain.Withdraw(ctx, proof.Raw, path.Root, note.NullifierHash, recipient, note.Amount)
	if err != nil {
		return nil, fmt.Errorf("submit withdrawal: %w", err)
	}
	log.Infow("withdrawal submitted", "tx", txHash.Hex(), "recipient", recipient.Hex())

	receipt := &Receipt{
		TxHash:        *txHash,
		Recipient:     recipient,
		Amount:        types.BigIntFrom(note.Amount),
		NullifierHash: types.BigIntFrom(note.NullifierHash),
		Root:          types.BigIntFrom(path.Root),
	}

	// Confirm
	if err := o.chain.WaitTx(ctx, *txHash, o.confirmTimeout); err != nil {
		if errors.Is(err, web3.ErrTxNotConfirmed) {
			return receipt, fmt.Errorf("%w: tx %s", ErrConfirmationPending, txHash.Hex())
		}
		return receipt, fmt.Errorf("confirm withdrawal: %w", err)
	}
	receipt.Confirmed = true
	log.Infow("withdrawal confirmed", "tx", txHash.Hex())
	return receipt, nil
}

func (o *Orchestrator) fetchPath(note *pool.DepositNote) (*tree.SiblingPath, error) {
	index, err := o.paths.LeafIndexOf(note.Commitment)
	if err != nil {
		if errors.Is(err, tree.ErrLeafNotFound) {
			return nil, fmt.Errorf("%w: commitment %s", ErrCommitmentNotIndexed, note.Commitment.String())
		}
		return nil, err
	}
	return o.paths.SiblingPath(index)
}

// verifyRoot compares the replica's root with the live chain root. A
// mismatch means the replica is stale or diverged; proceeding would build
// an unverifiable proof. The contract re-checks the root on submit anyway;
// this step only fails fast before the expensive proving stage.
func (o *Orchestrator) verifyRoot(ctx context.Context, replicaRoot *big.Int) error {
	chainRoot, err := o.chain.GetRoot(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain root: %w", err)
	}
	if chainRoot.Cmp(replicaRoot) != 0 {
		return fmt.Errorf("%w: replica %s, chain %s", ErrRootMismatch, replicaRoot.String(), chainRoot.String())
	}
	return nil
}

// prove builds the circuit witness and delegates to the proving backend.
// The public signal order [root, nullifierHash, recipient, amount] is fixed
// by the verifier contract; the returned signals are checked against the
// submitted witness because an order mismatch produces a proof that simply
// fails verification with no other symptom.
func (o *Orchestrator) prove(ctx context.Context, note *pool.DepositNote, path *tree.SiblingPath, recipient common.Address) (*prover.Proof, error) {
	pathElements := make([]string, types.TreeDepth)
	pathIndices := make([]string, types.TreeDepth)
	for i := 0; i < types.TreeDepth; i++ {
		pathElements[i] = path.PathElements[i].String()
		pathIndices[i] = fmt.Sprint(path.PathIndices[i])
	}
	recipientValue := new(big.Int).SetBytes(recipient.Bytes())
	inputs := map[string]any{
		// public signals, in the circuit's declared order
		"root":          path.Root.String(),
		"nullifierHash": note.NullifierHash.String(),
		"recipient":     recipientValue.String(),
		"amount":        note.Amount.String(),
		// private witness
		"secret":       note.Secret.String(),
		"nullifier":    note.Nullifier.String(),
		"pathElements": pathElements,
		"pathIndices":  pathIndices,
	}
	proof, err := o.prover.Prove(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("prove withdrawal: %w", err)
	}
	expected := []*big.Int{path.Root, note.NullifierHash, recipientValue, note.Amount}
	if len(proof.PublicSignals) != len(expected) {
		return nil, fmt.Errorf("prover returned %d public signals, expected %d", len(proof.PublicSignals), len(expected))
	}
	for i, want := range expected {
		if proof.PublicSignals[i].Cmp(want) != 0 {
			return nil, fmt.Errorf("public signal %d mismatch: got %s, want %s", i, proof.PublicSignals[i], want)
		}
	}
	return proof, nil
}
