package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AnnouncementEvent is an Announcement log emitted by the announcer contract.
// Its payload is attacker-controlled: consumers must validate the ephemeral
// public key before doing any curve arithmetic with it.
type AnnouncementEvent struct {
	SchemeID        uint64         `json:"schemeId"        cbor:"0,keyasint"`
	StealthAddress  common.Address `json:"stealthAddress"  cbor:"1,keyasint"`
	Caller          common.Address `json:"caller"          cbor:"2,keyasint"`
	EphemeralPubKey HexBytes       `json:"ephemeralPubKey" cbor:"3,keyasint"`
	Metadata        HexBytes       `json:"metadata"        cbor:"4,keyasint"`
	BlockNumber     uint64         `json:"blockNumber"     cbor:"5,keyasint"`
	TxHash          common.Hash    `json:"txHash"          cbor:"6,keyasint"`
	LogIndex        uint           `json:"logIndex"        cbor:"7,keyasint"`
}

// DepositEvent is a Deposit log emitted by the pool contract. LeafIndex is
// assigned by the contract's insertion order and is authoritative.
type DepositEvent struct {
	Commitment  HexBytes    `json:"commitment"  cbor:"0,keyasint"`
	LeafIndex   uint64      `json:"leafIndex"   cbor:"1,keyasint"`
	Amount      *BigInt     `json:"amount"      cbor:"2,keyasint"`
	Timestamp   uint64      `json:"timestamp"   cbor:"3,keyasint"`
	BlockNumber uint64      `json:"blockNumber" cbor:"4,keyasint"`
	TxHash      common.Hash `json:"txHash"      cbor:"5,keyasint"`
	LogIndex    uint        `json:"logIndex"    cbor:"6,keyasint"`
}

// WithdrawalEvent is a Withdrawal log emitted by the pool contract. The
// nullifier hash it carries is recorded forever in the nullifier set.
type WithdrawalEvent struct {
	Recipient     common.Address `json:"recipient"     cbor:"0,keyasint"`
	NullifierHash HexBytes       `json:"nullifierHash" cbor:"1,keyasint"`
	Amount        *BigInt        `json:"amount"        cbor:"2,keyasint"`
	Timestamp     uint64         `json:"timestamp"     cbor:"3,keyasint"`
	BlockNumber   uint64         `json:"blockNumber"   cbor:"4,keyasint"`
	TxHash        common.Hash    `json:"txHash"        cbor:"5,keyasint"`
	LogIndex      uint           `json:"logIndex"      cbor:"6,keyasint"`
}

// BigIntFrom is a convenience constructor used when building events from logs.
func BigIntFrom(i *big.Int) *BigInt {
	if i == nil {
		return nil
	}
	return (*BigInt)(new(big.Int).Set(i))
}
