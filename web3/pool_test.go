package web3

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	qt "github.com/frankban/quicktest"
)

func TestParseDeposit(t *testing.T) {
	c := qt.New(t)
	commitment := bigToBytes32(big.NewInt(123456))
	data, err := poolABI.Events["Deposit"].Inputs.NonIndexed().Pack(
		uint32(7), big.NewInt(1_000_000), big.NewInt(1700000042))
	c.Assert(err, qt.IsNil)
	l := &ethtypes.Log{
		Topics: []common.Hash{
			poolABI.Events["Deposit"].ID,
			common.BytesToHash(commitment[:]),
		},
		Data:        data,
		BlockNumber: 99,
		TxHash:      common.BytesToHash([]byte{0xab}),
		Index:       3,
	}
	ev, err := parseDeposit(l)
	c.Assert(err, qt.IsNil)
	c.Assert(new(big.Int).SetBytes(ev.Commitment).Int64(), qt.Equals, int64(123456))
	c.Assert(ev.LeafIndex, qt.Equals, uint64(7))
	c.Assert(ev.Amount.MathBigInt().Int64(), qt.Equals, int64(1_000_000))
	c.Assert(ev.Timestamp, qt.Equals, uint64(1700000042))
	c.Assert(ev.BlockNumber, qt.Equals, uint64(99))
	c.Assert(ev.LogIndex, qt.Equals, uint(3))

	// missing indexed commitment topic
	l.Topics = l.Topics[:1]
	_, err = parseDeposit(l)
	c.Assert(err, qt.IsNotNil)
}

func TestParseAnnouncement(t *testing.T) {
	c := qt.New(t)
	ephemeral := make([]byte, 33)
	ephemeral[0] = 0x02
	metadata := []byte{0x5a}
	data, err := poolABI.Events["Announcement"].Inputs.NonIndexed().Pack(ephemeral, metadata)
	c.Assert(err, qt.IsNil)
	stealthAddr := common.BytesToAddress([]byte{0x11})
	caller := common.BytesToAddress([]byte{0x22})
	l := &ethtypes.Log{
		Topics: []common.Hash{
			poolABI.Events["Announcement"].ID,
			common.BigToHash(big.NewInt(1)),
			common.BytesToHash(stealthAddr.Bytes()),
			common.BytesToHash(caller.Bytes()),
		},
		Data:        data,
		BlockNumber: 120,
		TxHash:      common.BytesToHash([]byte{0xcd}),
	}
	ev, err := parseAnnouncement(l)
	c.Assert(err, qt.IsNil)
	c.Assert(ev.SchemeID, qt.Equals, uint64(1))
	c.Assert(ev.StealthAddress, qt.Equals, stealthAddr)
	c.Assert(ev.Caller, qt.Equals, caller)
	c.Assert([]byte(ev.EphemeralPubKey), qt.DeepEquals, ephemeral)
	c.Assert([]byte(ev.Metadata), qt.DeepEquals, metadata)

	l.Topics = l.Topics[:2]
	_, err = parseAnnouncement(l)
	c.Assert(err, qt.IsNotNil)
}

func TestParseWithdrawal(t *testing.T) {
	c := qt.New(t)
	recipient := common.BytesToAddress([]byte{0x33})
	nullifierHash := bigToBytes32(big.NewInt(777))
	data, err := poolABI.Events["Withdrawal"].Inputs.NonIndexed().Pack(
		recipient, nullifierHash, big.NewInt(500), big.NewInt(1700000001))
	c.Assert(err, qt.IsNil)
	l := &ethtypes.Log{
		Topics:      []common.Hash{poolABI.Events["Withdrawal"].ID},
		Data:        data,
		BlockNumber: 130,
	}
	ev, err := parseWithdrawal(l)
	c.Assert(err, qt.IsNil)
	c.Assert(ev.Recipient, qt.Equals, recipient)
	c.Assert(new(big.Int).SetBytes(ev.NullifierHash).Int64(), qt.Equals, int64(777))
	c.Assert(ev.Amount.MathBigInt().Int64(), qt.Equals, int64(500))
}

func TestBigToBytes32(t *testing.T) {
	c := qt.New(t)
	out := bigToBytes32(big.NewInt(0x01ff))
	c.Assert(out[30], qt.Equals, byte(0x01))
	c.Assert(out[31], qt.Equals, byte(0xff))
	c.Assert(out[0], qt.Equals, byte(0))
}
