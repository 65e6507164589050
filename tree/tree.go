// Package tree is the off-chain replica of the pool contract's incremental
// Merkle tree. Insertions must reproduce the contract's filled-subtree
// algorithm bit-for-bit: for any prefix of leaves inserted in order, root
// and filled subtrees are a pure function of that prefix, which is the only
// reason an off-chain copy can match the chain at all.
package tree

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilpay/veilpay/crypto/hash/poseidon"
	"github.com/veilpay/veilpay/types"
)

var (
	// ErrTreeFull is returned once all 2^20 leaves are used. Fatal: the
	// pool needs a new deployment.
	ErrTreeFull = errors.New("merkle tree is full")
	// ErrLeafNotFound is returned when a commitment has no indexed leaf.
	// Callers should retry after the scanner catches up.
	ErrLeafNotFound = errors.New("leaf not found in tree")
)

// zeroValue is the leaf value of an empty slot:
// Keccak256("veilpay") reduced into the snark scalar field. The contract
// hardcodes the same constant.
var zeroValue = new(big.Int).Mod(
	new(big.Int).SetBytes(ethcrypto.Keccak256([]byte("veilpay"))),
	types.SnarkField,
)

// SiblingPath is a Merkle membership path for one leaf. PathIndices[i] is 0
// when the node at level i is a left child and 1 when it is a right child.
type SiblingPath struct {
	PathElements [types.TreeDepth]*big.Int
	PathIndices  [types.TreeDepth]int
	Root         *big.Int
	Leaf         *big.Int
	LeafIndex    uint64
}

// Tree is the incremental Merkle tree replica. A single writer calls
// Insert; concurrent readers get consistent snapshots and never observe a
// half-applied insertion.
type Tree struct {
	mu             sync.RWMutex
	zeros          [types.TreeDepth + 1]*big.Int
	filledSubtrees [types.TreeDepth]*big.Int
	leaves         []*big.Int
	leafIndex      map[string]uint64
	roots          [types.RootHistorySize]*big.Int
	currentRootIdx int
	nextLeafIndex  uint64
}

// New creates an empty tree with precomputed zero subtree hashes.
func New() (*Tree, error) {
	t := &Tree{
		leafIndex: make(map[string]uint64),
	}
	t.zeros[0] = zeroValue
	for i := 1; i <= types.TreeDepth; i++ {
		h, err := poseidon.HashPair(t.zeros[i-1], t.zeros[i-1])
		if err != nil {
			return nil, fmt.Errorf("precompute zero hashes: %w", err)
		}
		t.zeros[i] = h
	}
	for i := range t.filledSubtrees {
		t.filledSubtrees[i] = t.zeros[i]
	}
	t.roots[0] = t.zeros[types.TreeDepth]
	return t, nil
}

// insertStep advances one level of an insertion. It mirrors the contract
// exactly: at an even position the node is hashed against the zero subtree
// and then recorded as the level's filled subtree; at an odd position the
// previously recorded filled subtree is read, unchanged, as the left
// sibling. Reading the stored value and overwriting it are kept as two
// distinct steps so the ordering stays testable in isolation.
func (t *Tree) insertStep(level int, index uint64, node *big.Int) (*big.Int, error) {
	stored := t.filledSubtrees[level]
	var left, right *big.Int
	if index%2 == 0 {
		left, right = node, t.zeros[level]
		t.filledSubtrees[level] = node
	} else {
		left, right = stored, node
	}
	return poseidon.HashPair(left, right)
}

// Insert appends a leaf and returns its index and the new root. It is the
// sole mutator of the tree state.
func (t *Tree) Insert(leaf *big.Int) (uint64, *big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextLeafIndex >= types.MaxLeaves {
		return 0, nil, ErrTreeFull
	}
	index := t.nextLeafIndex
	node := new(big.Int).Set(leaf)
	levelIndex := index
	for level := 0; level < types.TreeDepth; level++ {
		next, err := t.insertStep(level, levelIndex, node)
		if err != nil {
			return 0, nil, fmt.Errorf("hash level %d: %w", level, err)
		}
		node = next
		levelIndex /= 2
	}

	t.leaves = append(t.leaves, new(big.Int).Set(leaf))
	// the contract accepts duplicate commitments; keep the first index so
	// lookups stay deterministic
	if _, ok := t.leafIndex[leaf.String()]; !ok {
		t.leafIndex[leaf.String()] = index
	}
	t.nextLeafIndex++
	t.currentRootIdx = (t.currentRootIdx + 1) % types.RootHistorySize
	t.roots[t.currentRootIdx] = node
	return index, node, nil
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.roots[t.currentRootIdx])
}

// LeafCount returns the number of inserted leaves.
func (t *Tree) LeafCount() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextLeafIndex
}

// LeafAt returns the leaf stored at the given index.
func (t *Tree) LeafAt(index uint64) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= t.nextLeafIndex {
		return nil, fmt.Errorf("%w: index %d, tree has %d leaves", ErrLeafNotFound, index, t.nextLeafIndex)
	}
	return new(big.Int).Set(t.leaves[index]), nil
}

// LeafIndexOf returns the index of the first leaf holding the given
// commitment. Later duplicates of the same commitment are reachable only by
// index.
func (t *Tree) LeafIndexOf(commitment *big.Int) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.leafIndex[commitment.String()]
	if !ok {
		return 0, fmt.Errorf("%w: commitment %s", ErrLeafNotFound, commitment.String())
	}
	return idx, nil
}

// IsKnownRoot reports whether the root is still inside the bounded history
// window. nil and the integer zero are rejected outright; the empty tree's
// root is seeded into the history, matching the contract.
func (t *Tree) IsKnownRoot(root *big.Int) bool {
	if root == nil || root.Sign() == 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.currentRootIdx
	for {
		if t.roots[i] != nil && t.roots[i].Cmp(root) == 0 {
			return true
		}
		if i == 0 {
			i = types.RootHistorySize
		}
		i--
		if i == t.currentRootIdx {
			return false
		}
	}
}

// SiblingPath computes the membership path for the leaf at the given index
// against the tree's current state. The siblings are derived analytically
// from the set of already-inserted leaves at each level, padded with zero
// subtrees, so the path always hashes to the current root rather than to a
// stale filled-subtree snapshot.
//
// The leaf set is copied under the read lock and the hashing happens
// outside of it, keeping path queries off the ingestion critical section.
func (t *Tree) SiblingPath(index uint64) (*SiblingPath, error) {
	t.mu.RLock()
	if index >= t.nextLeafIndex {
		t.mu.RUnlock()
		return nil, fmt.Errorf("%w: index %d, tree has %d leaves", ErrLeafNotFound, index, t.nextLeafIndex)
	}
	layer := make([]*big.Int, len(t.leaves))
	copy(layer, t.leaves)
	t.mu.RUnlock()

	path := &SiblingPath{
		Leaf:      new(big.Int).Set(layer[index]),
		LeafIndex: index,
	}
	idx := index
	for level := 0; level < types.TreeDepth; level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, t.zeros[level])
		}
		sibling := idx ^ 1
		if sibling < uint64(len(layer)) {
			path.PathElements[level] = new(big.Int).Set(layer[sibling])
		} else {
			path.PathElements[level] = new(big.Int).Set(t.zeros[level])
		}
		path.PathIndices[level] = int(idx % 2)

		next := make([]*big.Int, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			h, err := poseidon.HashPair(layer[i], layer[i+1])
			if err != nil {
				return nil, fmt.Errorf("hash level %d: %w", level, err)
			}
			next[i/2] = h
		}
		layer = next
		idx /= 2
	}
	path.Root = layer[0]
	return path, nil
}

// VerifyPath checks that a sibling path hashes from its leaf to its root.
func VerifyPath(p *SiblingPath) (bool, error) {
	if p == nil {
		return false, nil
	}
	node := new(big.Int).Set(p.Leaf)
	for level := 0; level < types.TreeDepth; level++ {
		var left, right *big.Int
		if p.PathIndices[level] == 0 {
			left, right = node, p.PathElements[level]
		} else {
			left, right = p.PathElements[level], node
		}
		h, err := poseidon.HashPair(left, right)
		if err != nil {
			return false, err
		}
		node = h
	}
	return node.Cmp(p.Root) == 0, nil
}

// ZeroRoot returns the root of an empty tree, useful for status reporting.
func (t *Tree) ZeroRoot() *big.Int {
	return new(big.Int).Set(t.zeros[types.TreeDepth])
}
