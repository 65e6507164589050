package util

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/veilpay/veilpay/types"
)

// RandomBytes generates a random byte slice of length n.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

// RandomHex generates a random hex string of length n.
func RandomHex(n int) string {
	return fmt.Sprintf("%x", RandomBytes(n))
}

// RandomFieldElement samples a uniformly random element of the snark scalar
// field. This is the sampler for note secrets and nullifiers; it must not be
// confused with secp256k1 scalar sampling, which uses a different modulus.
func RandomFieldElement() *big.Int {
	v, err := rand.Int(rand.Reader, types.SnarkField)
	if err != nil {
		panic(err)
	}
	return v
}

// TrimHex trims the '0x' prefix from a hex string.
func TrimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// BigToFF reduces the provided integer into the snark scalar field using
// the Euclidean modulus.
func BigToFF(iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(types.SnarkField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, types.SnarkField)
}
