// Package keys implements secp256k1 keypair generation and point
// compression for the stealth address scheme. Private keys are uniformly
// random scalars in (0, N); public keys travel compressed (33 bytes) or
// uncompressed (65 bytes) exactly as go-ethereum encodes them.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// PrivateKeySize is the byte length of a secp256k1 scalar.
	PrivateKeySize = 32
	// CompressedSize is the byte length of a compressed public key.
	CompressedSize = 33
	// UncompressedSize is the byte length of an uncompressed public key.
	UncompressedSize = 65
)

// ErrInvalidKeyLength is returned when a key is neither 32 bytes (private)
// nor 33/65 bytes (public).
var ErrInvalidKeyLength = errors.New("invalid key length")

// Keypair holds a secp256k1 private scalar and the matching public point.
type Keypair struct {
	PrivateKey *ecdsa.PrivateKey
}

// PublicKey returns the public point of the keypair.
func (k *Keypair) PublicKey() *ecdsa.PublicKey {
	return &k.PrivateKey.PublicKey
}

// PrivateKeyBytes returns the private scalar as a 32-byte big-endian slice.
func (k *Keypair) PrivateKeyBytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

// CompressedPublicKey returns the 33-byte compressed public key.
func (k *Keypair) CompressedPublicKey() []byte {
	return ethcrypto.CompressPubkey(k.PublicKey())
}

// GenerateKeypair samples a fresh keypair. The scalar is rejected and
// resampled while it falls outside (0, N).
func GenerateKeypair() (*Keypair, error) {
	for {
		b := make([]byte, PrivateKeySize)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("read entropy: %w", err)
		}
		k := new(big.Int).SetBytes(b)
		if k.Sign() == 0 || k.Cmp(ethcrypto.S256().Params().N) >= 0 {
			continue
		}
		return DeriveKeypair(b)
	}
}

// DeriveKeypair builds a keypair from a 32-byte private scalar. It fails
// with ErrInvalidKeyLength on a wrong-sized input and rejects scalars
// outside (0, N).
func DeriveKeypair(privateKey []byte) (*Keypair, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d",
			ErrInvalidKeyLength, PrivateKeySize, len(privateKey))
	}
	priv, err := ethcrypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private scalar: %w", err)
	}
	return &Keypair{PrivateKey: priv}, nil
}

// ParsePublicKey decodes a compressed or uncompressed public key. Points
// not on the curve are rejected, which matters because announcement
// payloads are attacker-controlled.
func ParsePublicKey(pubkey []byte) (*ecdsa.PublicKey, error) {
	switch len(pubkey) {
	case CompressedSize:
		pk, err := ethcrypto.DecompressPubkey(pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid compressed public key: %w", err)
		}
		return pk, nil
	case UncompressedSize:
		pk, err := ethcrypto.UnmarshalPubkey(pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid uncompressed public key: %w", err)
		}
		return pk, nil
	default:
		return nil, fmt.Errorf("%w: public key must be %d or %d bytes, got %d",
			ErrInvalidKeyLength, CompressedSize, UncompressedSize, len(pubkey))
	}
}

// Compress encodes a public key in its 33-byte compressed form.
func Compress(pubkey *ecdsa.PublicKey) []byte {
	return ethcrypto.CompressPubkey(pubkey)
}

// Uncompress encodes a public key in its 65-byte uncompressed form
// (0x04 prefix followed by the x and y coordinates).
func Uncompress(pubkey *ecdsa.PublicKey) []byte {
	return ethcrypto.FromECDSAPub(pubkey)
}
