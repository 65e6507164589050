// Package types contains the shared wire and storage types used across the
// veilpay node: hex-encoded byte slices, decimal big integers and the
// protocol constants negotiated with the on-chain contracts.
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/fxamacker/cbor/v2"
)

const (
	// TreeDepth is the depth of the on-chain incremental Merkle tree. The
	// replica must use the same value or every root diverges.
	TreeDepth = 20
	// MaxLeaves is the capacity of the tree: 2^TreeDepth.
	MaxLeaves = 1 << TreeDepth
	// RootHistorySize is the number of recent roots the contract keeps
	// valid for withdrawals. Older roots are rejected.
	RootHistorySize = 100
	// SchemeIDSecp256k1 identifies the secp256k1 stealth address scheme.
	SchemeIDSecp256k1 = 1
	// ProofSize is the number of field elements in a serialized Groth16
	// proof as expected by the withdraw() entrypoint.
	ProofSize = 8
)

// SnarkField is the BN254 scalar field modulus, the field the withdrawal
// circuit operates in. Note this is not the secp256k1 group order used by
// the stealth address scheme; the two moduli must never be mixed up.
var SnarkField = fr.Modulus()

// HexBytes is a byte slice that marshals to and from 0x-prefixed hex in JSON.
type HexBytes []byte

func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*b = decoded
	return nil
}

// BigInt wraps math/big.Int to marshal as a decimal string in JSON, which is
// how field elements travel to and from the circom tooling.
type BigInt big.Int

func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) String() string {
	return i.MathBigInt().String()
}

func (i *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

func (i *BigInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if _, ok := i.MathBigInt().SetString(s, 10); !ok {
		return fmt.Errorf("invalid decimal string %q", s)
	}
	return nil
}

// MarshalCBOR encodes the value as its big-endian byte representation.
// Values are non-negative: field elements and token amounts.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.MathBigInt().Bytes())
}

func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalid cbor big integer: %w", err)
	}
	i.MathBigInt().SetBytes(b)
	return nil
}

// Equal reports whether both values represent the same integer.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}
