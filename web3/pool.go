package web3

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/veilpay/veilpay/types"
)

// GetRoot returns the contract's current Merkle root.
func (c *Contracts) GetRoot(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	var out []any
	if err := c.pool.Call(&bind.CallOpts{Context: ctx}, &out, "getRoot"); err != nil {
		return nil, fmt.Errorf("failed to get root: %w", err)
	}
	root := out[0].([32]byte)
	return new(big.Int).SetBytes(root[:]), nil
}

// IsKnownRoot queries the contract's bounded root history.
func (c *Contracts) IsKnownRoot(ctx context.Context, root *big.Int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	var out []any
	if err := c.pool.Call(&bind.CallOpts{Context: ctx}, &out, "isKnownRoot", bigToBytes32(root)); err != nil {
		return false, fmt.Errorf("failed to check root: %w", err)
	}
	return out[0].(bool), nil
}

// IsNullifierUsed queries the contract's spent nullifier set.
func (c *Contracts) IsNullifierUsed(ctx context.Context, nullifierHash *big.Int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	var out []any
	if err := c.pool.Call(&bind.CallOpts{Context: ctx}, &out, "isNullifierUsed", bigToBytes32(nullifierHash)); err != nil {
		return false, fmt.Errorf("failed to check nullifier: %w", err)
	}
	return out[0].(bool), nil
}

// Announce publishes a stealth payment announcement.
func (c *Contracts) Announce(ctx context.Context, schemeID uint64, stealthAddress common.Address, ephemeralPubKey, metadata []byte) (*common.Hash, error) {
	txOpts, err := c.authTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create transact options: %w", err)
	}
	tx, err := c.pool.Transact(txOpts, "announce",
		new(big.Int).SetUint64(schemeID), stealthAddress, ephemeralPubKey, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to announce: %w", err)
	}
	hash := tx.Hash()
	return &hash, nil
}

// Deposit sends a deposit transaction carrying the commitment and amount.
// The value attached must match the declared amount or the contract reverts.
func (c *Contracts) Deposit(ctx context.Context, commitment, amount *big.Int) (*common.Hash, error) {
	txOpts, err := c.authTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create transact options: %w", err)
	}
	txOpts.Value = new(big.Int).Set(amount)
	tx, err := c.pool.Transact(txOpts, "deposit", bigToBytes32(commitment), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to deposit: %w", err)
	}
	hash := tx.Hash()
	return &hash, nil
}

// Withdraw submits a withdrawal with its Groth16 proof and public signals.
// The contract independently re-checks the root and the nullifier; these
// on-chain checks are the authoritative ones.
func (c *Contracts) Withdraw(ctx context.Context, proof [types.ProofSize]*big.Int, root, nullifierHash *big.Int, recipient common.Address, amount *big.Int) (*common.Hash, error) {
	txOpts, err := c.authTransactOpts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create transact options: %w", err)
	}
	tx, err := c.pool.Transact(txOpts, "withdraw",
		proof, bigToBytes32(root), bigToBytes32(nullifierHash), recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to withdraw: %w", err)
	}
	hash := tx.Hash()
	return &hash, nil
}

// PoolEvents holds the typed events found in one scanned block range.
type PoolEvents struct {
	Announcements []*types.AnnouncementEvent
	Deposits      []*types.DepositEvent
	Withdrawals   []*types.WithdrawalEvent
}

// FilterPoolEvents fetches and decodes the pool contract logs in the block
// range [from, to]. Logs with an unknown topic are rejected loudly rather
// than skipped, since an unknown event means the binding is out of date with
// the deployed contract.
func (c *Contracts) FilterPoolEvents(ctx context.Context, from, to uint64) (*PoolEvents, error) {
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.poolAddr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	events := &PoolEvents{}
	for i := range logs {
		l := &logs[i]
		if l.Removed || len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case poolABI.Events["Announcement"].ID:
			ev, err := parseAnnouncement(l)
			if err != nil {
				return nil, err
			}
			events.Announcements = append(events.Announcements, ev)
		case poolABI.Events["Deposit"].ID:
			ev, err := parseDeposit(l)
			if err != nil {
				return nil, err
			}
			events.Deposits = append(events.Deposits, ev)
		case poolABI.Events["Withdrawal"].ID:
			ev, err := parseWithdrawal(l)
			if err != nil {
				return nil, err
			}
			events.Withdrawals = append(events.Withdrawals, ev)
		default:
			return nil, fmt.Errorf("unknown event topic %s in tx %s", l.Topics[0].Hex(), l.TxHash.Hex())
		}
	}
	return events, nil
}

func parseAnnouncement(l *ethtypes.Log) (*types.AnnouncementEvent, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("malformed Announcement log in tx %s", l.TxHash.Hex())
	}
	var data struct {
		EphemeralPubKey []byte
		Metadata        []byte
	}
	if err := poolABI.UnpackIntoInterface(&data, "Announcement", l.Data); err != nil {
		return nil, fmt.Errorf("unpack Announcement: %w", err)
	}
	return &types.AnnouncementEvent{
		SchemeID:        new(big.Int).SetBytes(l.Topics[1][:]).Uint64(),
		StealthAddress:  common.BytesToAddress(l.Topics[2][:]),
		Caller:          common.BytesToAddress(l.Topics[3][:]),
		EphemeralPubKey: data.EphemeralPubKey,
		Metadata:        data.Metadata,
		BlockNumber:     l.BlockNumber,
		TxHash:          l.TxHash,
		LogIndex:        l.Index,
	}, nil
}

func parseDeposit(l *ethtypes.Log) (*types.DepositEvent, error) {
	if len(l.Topics) != 2 {
		return nil, fmt.Errorf("malformed Deposit log in tx %s", l.TxHash.Hex())
	}
	var data struct {
		LeafIndex uint32
		Amount    *big.Int
		Timestamp *big.Int
	}
	if err := poolABI.UnpackIntoInterface(&data, "Deposit", l.Data); err != nil {
		return nil, fmt.Errorf("unpack Deposit: %w", err)
	}
	return &types.DepositEvent{
		Commitment:  l.Topics[1][:],
		LeafIndex:   uint64(data.LeafIndex),
		Amount:      types.BigIntFrom(data.Amount),
		Timestamp:   data.Timestamp.Uint64(),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

func parseWithdrawal(l *ethtypes.Log) (*types.WithdrawalEvent, error) {
	var data struct {
		Recipient     common.Address
		NullifierHash [32]byte
		Amount        *big.Int
		Timestamp     *big.Int
	}
	if err := poolABI.UnpackIntoInterface(&data, "Withdrawal", l.Data); err != nil {
		return nil, fmt.Errorf("unpack Withdrawal: %w", err)
	}
	return &types.WithdrawalEvent{
		Recipient:     data.Recipient,
		NullifierHash: data.NullifierHash[:],
		Amount:        types.BigIntFrom(data.Amount),
		Timestamp:     data.Timestamp.Uint64(),
		BlockNumber:   l.BlockNumber,
		TxHash:        l.TxHash,
		LogIndex:      l.Index,
	}, nil
}

func bigToBytes32(v *big.Int) [32]byte {
	var out [32]byte
	v.FillBytes(out[:])
	return out
}
