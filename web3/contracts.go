// Package web3 binds the VeilPay pool contract over a generic ethclient
// backend. Only the contract's observable interface is modeled here; its
// storage and gas mechanics live on-chain.
package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.vocdoni.io/dvote/log"
)

const web3QueryTimeout = 10 * time.Second

// ErrTxNotConfirmed is returned by WaitTx when the transaction has not been
// mined inside the allowed window. The transaction may still succeed later.
var ErrTxNotConfirmed = errors.New("transaction not confirmed in time")

// Backend is the slice of the ethclient API the node uses. ethclient.Client
// implements it; tests provide a mock chain.
type Backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Contracts wraps the pool contract binding plus the signing account used
// for withdrawals and announcements.
type Contracts struct {
	ChainID  uint64
	backend  Backend
	pool     *bind.BoundContract
	poolAddr common.Address
	privKey  *ecdsa.PrivateKey
	address  common.Address
}

// NewContracts connects to the web3 endpoint and binds the pool contract.
func NewContracts(poolAddr common.Address, web3rpc string) (*Contracts, error) {
	ctx, cancel := context.WithTimeout(context.Background(), web3QueryTimeout)
	defer cancel()
	cli, err := ethclient.DialContext(ctx, web3rpc)
	if err != nil {
		return nil, fmt.Errorf("failed to dial web3 endpoint: %w", err)
	}
	return NewContractsWithBackend(poolAddr, cli)
}

// NewContractsWithBackend binds the pool contract over an existing backend.
func NewContractsWithBackend(poolAddr common.Address, backend Backend) (*Contracts, error) {
	ctx, cancel := context.WithTimeout(context.Background(), web3QueryTimeout)
	defer cancel()
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return &Contracts{
		ChainID:  chainID.Uint64(),
		backend:  backend,
		pool:     bind.NewBoundContract(poolAddr, poolABI, backend, backend, backend),
		poolAddr: poolAddr,
	}, nil
}

// SetAccountPrivateKey sets the private key used for signing transactions.
func (c *Contracts) SetAccountPrivateKey(hexPrivKey string) error {
	var err error
	c.privKey, err = crypto.HexToECDSA(hexPrivKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	c.address = crypto.PubkeyToAddress(c.privKey.PublicKey)
	return nil
}

// AccountAddress returns the address of the signing account.
func (c *Contracts) AccountAddress() common.Address {
	return c.address
}

// BlockNumber returns the current chain head number.
func (c *Contracts) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

// authTransactOpts creates the transact options with the configured private
// key: nonce, gas tip and a fixed gas limit.
func (c *Contracts) authTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privKey == nil {
		return nil, fmt.Errorf("no private key set")
	}
	bChainID := new(big.Int).SetUint64(c.ChainID)
	auth, err := bind.NewKeyedTransactorWithChainID(c.privKey, bChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	log.Debugw("getting nonce", "address", c.address.Hex())
	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	if auth.GasTipCap, err = c.backend.SuggestGasTipCap(ctx); err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	auth.GasLimit = 10000000
	return auth, nil
}

// WaitTx waits until the transaction is mined or the timeout elapses. A
// timeout returns ErrTxNotConfirmed, which callers must treat as "still
// pending", not as failure.
func (c *Contracts) WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrTxNotConfirmed, hash.Hex())
		case <-ticker.C:
			receipt, err := c.backend.TransactionReceipt(ctx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				log.Warnw("failed to get receipt, retrying", "tx", hash.Hex(), "error", err.Error())
				continue
			}
			if receipt == nil {
				continue
			}
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return nil
		}
	}
}
