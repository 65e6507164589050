// Package stealth implements the ERC-5564 style stealth address scheme over
// secp256k1: meta-address encoding, sender-side stealth address derivation,
// recipient-side private key reconstruction and announcement scanning.
//
// The shared secret is the Keccak256 digest of the *compressed* ECDH point,
// never the raw point, so no information about the point's quadratic
// residues leaks into the derived scalar.
package stealth

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilpay/veilpay/crypto/keys"
	"github.com/veilpay/veilpay/types"
)

// MetaAddressPrefix prefixes the string encoding of a stealth meta-address.
const MetaAddressPrefix = "st:eth:"

// ErrUnsupportedScheme is returned for any scheme id other than the
// secp256k1 scheme this codec implements.
var ErrUnsupportedScheme = errors.New("unsupported stealth address scheme")

// MetaAddress is a recipient's long-lived published key pair: the spending
// key controls funds, the viewing key only detects incoming payments.
type MetaAddress struct {
	SpendingPubKey *ecdsa.PublicKey
	ViewingPubKey  *ecdsa.PublicKey
}

// Encode returns the st:eth:0x<spend33><view33> string form.
func (m *MetaAddress) Encode() string {
	var buf bytes.Buffer
	buf.Write(keys.Compress(m.SpendingPubKey))
	buf.Write(keys.Compress(m.ViewingPubKey))
	return MetaAddressPrefix + types.HexBytes(buf.Bytes()).String()
}

// ParseMetaAddress decodes a meta-address string. Both embedded points are
// validated to be on the curve.
func ParseMetaAddress(s string) (*MetaAddress, error) {
	if !strings.HasPrefix(s, MetaAddressPrefix) {
		return nil, fmt.Errorf("meta-address must start with %q", MetaAddressPrefix)
	}
	var raw types.HexBytes
	if err := raw.UnmarshalJSON([]byte(`"` + strings.TrimPrefix(s, MetaAddressPrefix) + `"`)); err != nil {
		return nil, fmt.Errorf("decode meta-address: %w", err)
	}
	if len(raw) != 2*keys.CompressedSize {
		return nil, fmt.Errorf("%w: meta-address must contain two compressed keys (%d bytes), got %d",
			keys.ErrInvalidKeyLength, 2*keys.CompressedSize, len(raw))
	}
	spend, err := keys.ParsePublicKey(raw[:keys.CompressedSize])
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	view, err := keys.ParsePublicKey(raw[keys.CompressedSize:])
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	return &MetaAddress{SpendingPubKey: spend, ViewingPubKey: view}, nil
}

// StealthAddressInfo is the sender-side output of a stealth derivation. The
// ephemeral public key and view tag are published in the announcement; the
// stealth address receives the payment.
type StealthAddressInfo struct {
	StealthAddress  common.Address `json:"stealthAddress"`
	EphemeralPubKey types.HexBytes `json:"ephemeralPubKey"`
	ViewTag         byte           `json:"viewTag"`
	Metadata        types.HexBytes `json:"metadata,omitempty"`
}

// sharedSecret computes Keccak256(compress(scalar * point)).
func sharedSecret(scalar *big.Int, point *ecdsa.PublicKey) []byte {
	x, y := ethcrypto.S256().ScalarMult(point.X, point.Y, scalar.Bytes())
	shared := &ecdsa.PublicKey{Curve: ethcrypto.S256(), X: x, Y: y}
	return ethcrypto.Keccak256(keys.Compress(shared))
}

// addressOf derives the on-chain address of a public key: the last 20 bytes
// of Keccak256 over the uncompressed point without its 0x04 prefix byte.
func addressOf(pubkey *ecdsa.PublicKey) common.Address {
	return ethcrypto.PubkeyToAddress(*pubkey)
}

// GenerateStealthAddress derives a fresh one-time address for the recipient
// behind meta. Only schemeID 1 (secp256k1) is supported.
//
// The derivation is: ephemeral (e, E=eG); s = H(compress(e*View));
// P = Spend + s*G; address = keccak(P)[12:]. The first byte of s is
// published as the view tag so scanners can reject most announcements
// without a curve multiplication.
func GenerateStealthAddress(meta *MetaAddress, schemeID uint64) (*StealthAddressInfo, error) {
	if schemeID != types.SchemeIDSecp256k1 {
		return nil, fmt.Errorf("%w: scheme %d", ErrUnsupportedScheme, schemeID)
	}
	ephemeral, err := keys.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	return deriveStealthAddress(meta, ephemeral)
}

func deriveStealthAddress(meta *MetaAddress, ephemeral *keys.Keypair) (*StealthAddressInfo, error) {
	s := sharedSecret(ephemeral.PrivateKey.D, meta.ViewingPubKey)
	curve := ethcrypto.S256()
	// P_stealth = SpendPub + s*G
	sx, sy := curve.ScalarBaseMult(s)
	px, py := curve.Add(meta.SpendingPubKey.X, meta.SpendingPubKey.Y, sx, sy)
	stealthPub := &ecdsa.PublicKey{Curve: curve, X: px, Y: py}
	return &StealthAddressInfo{
		StealthAddress:  addressOf(stealthPub),
		EphemeralPubKey: ephemeral.CompressedPublicKey(),
		ViewTag:         s[0],
	}, nil
}

// ComputeStealthPrivateKey reconstructs, on the recipient side, the private
// key controlling a stealth address. By ECDH commutativity
// viewPriv*E == e*ViewPub, so s' here equals the sender's s, and
// stealthPriv = (spendPriv + s') mod N.
func ComputeStealthPrivateKey(viewingPriv, spendingPriv, ephemeralPub []byte) ([]byte, error) {
	viewKey, err := keys.DeriveKeypair(viewingPriv)
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	spendKey, err := keys.DeriveKeypair(spendingPriv)
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}
	ephemeral, err := keys.ParsePublicKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}
	s := sharedSecret(viewKey.PrivateKey.D, ephemeral)
	n := ethcrypto.S256().Params().N
	stealthPriv := new(big.Int).Add(spendKey.PrivateKey.D, new(big.Int).SetBytes(s))
	stealthPriv.Mod(stealthPriv, n)
	out := make([]byte, keys.PrivateKeySize)
	stealthPriv.FillBytes(out)
	return out, nil
}

// CheckStealthAddress re-derives the address controlled by stealthPriv and
// compares it with the claimed one, case-insensitively. A matching view tag
// is a 1/256 filter, not a proof; callers must always run this check.
func CheckStealthAddress(stealthPriv []byte, claimedAddress string) (bool, error) {
	kp, err := keys.DeriveKeypair(stealthPriv)
	if err != nil {
		return false, err
	}
	derived := addressOf(kp.PublicKey())
	return strings.EqualFold(derived.Hex(), claimedAddress), nil
}

// Match is the result of a successful announcement scan: the stealth
// address belongs to the scanner and stealthPrivKey controls it.
type Match struct {
	StealthAddress common.Address
	StealthPrivKey types.HexBytes
}

// ScanAnnouncement checks whether an announcement pays the recipient owning
// the given viewing and spending keys. A non-match is the common case and
// returns (nil, nil); errors are reserved for malformed inputs that pass
// the scheme filter.
func ScanAnnouncement(viewingPriv, spendingPriv []byte, ev *types.AnnouncementEvent) (*Match, error) {
	if ev.SchemeID != types.SchemeIDSecp256k1 {
		return nil, nil
	}
	viewKey, err := keys.DeriveKeypair(viewingPriv)
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	ephemeral, err := keys.ParsePublicKey(ev.EphemeralPubKey)
	if err != nil {
		// hostile or garbage ephemeral key, not for us
		return nil, nil
	}
	s := sharedSecret(viewKey.PrivateKey.D, ephemeral)
	if len(ev.Metadata) > 0 && ev.Metadata[0] != s[0] {
		// view tag mismatch, cheap reject
		return nil, nil
	}
	stealthPriv, err := ComputeStealthPrivateKey(viewingPriv, spendingPriv, ev.EphemeralPubKey)
	if err != nil {
		return nil, err
	}
	ok, err := CheckStealthAddress(stealthPriv, ev.StealthAddress.Hex())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Match{StealthAddress: ev.StealthAddress, StealthPrivKey: stealthPriv}, nil
}
