// Package poseidon wraps the iden3 Poseidon permutation used by the
// withdrawal circuit. The on-chain hasher was generated from the same
// circomlib constants; any divergence here makes every proof unverifiable.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hash computes Poseidon over up to 16 field elements.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	return poseidon.Hash(inputs)
}

// HashPair hashes two tree nodes. This is the only node hash the
// incremental Merkle tree uses, at every level.
func HashPair(left, right *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{left, right})
}
