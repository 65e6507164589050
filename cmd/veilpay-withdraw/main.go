// veilpay-withdraw submits a single shielded pool withdrawal: it parses the
// deposit note, rebuilds the tree replica from the pool contract logs,
// generates the Groth16 proof and sends the withdraw transaction.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay/config"
	"github.com/veilpay/veilpay/prover"
	"github.com/veilpay/veilpay/service"
	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/web3"
	"github.com/veilpay/veilpay/withdraw"
)

func main() {
	w3rpc := flag.String("w3rpc", "http://localhost:8545", "web3 rpc endpoint")
	poolAddr := flag.String("pool", "", "pool contract address")
	privKey := flag.String("privkey", "", "private key for the relaying account")
	note := flag.String("note", "", "deposit note string")
	recipient := flag.String("recipient", "", "withdrawal recipient address")
	startBlock := flag.Uint64("start-block", 0, "pool contract deployment block")
	wasmPath := flag.String("wasm", "", "circuit wasm path (default: download)")
	zkeyPath := flag.String("zkey", "", "proving key path (default: download)")
	vkeyPath := flag.String("vkey", "", "verification key path (optional)")
	confirmTimeout := flag.Duration("confirm-timeout", 2*time.Minute, "confirmation wait")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log.Init(*logLevel, "stdout", nil)
	for name, v := range map[string]*string{
		"pool": poolAddr, "privkey": privKey, "note": note, "recipient": recipient,
	} {
		if *v == "" {
			log.Fatalf("missing required flag -%s", name)
		}
	}
	if !common.IsHexAddress(*recipient) {
		log.Fatalf("invalid recipient address %q", *recipient)
	}

	contracts, err := web3.NewContracts(common.HexToAddress(*poolAddr), *w3rpc)
	if err != nil {
		log.Fatal(err)
	}
	if err := contracts.SetAccountPrivateKey(*privKey); err != nil {
		log.Fatal(err)
	}

	prv, err := buildProver(*wasmPath, *zkeyPath, *vkeyPath)
	if err != nil {
		log.Fatal(err)
	}

	// replicate the tree from the chain into a throwaway database
	tmpDir, err := os.MkdirTemp("", "veilpay-withdraw-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)
	database, err := metadb.New(db.TypePebble, tmpDir)
	if err != nil {
		log.Fatal(err)
	}
	stg := storage.New(database)
	replica, err := tree.New()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	scanner := service.NewScanner(contracts, stg, replica, *startBlock, time.Second)
	if err := scanner.Start(ctx); err != nil {
		log.Fatal(err)
	}
	waitSynced(ctx, contracts, stg)
	scanner.Stop()

	orch := withdraw.New(contracts, replica, prv, stg, *confirmTimeout)
	receipt, err := orch.Withdraw(ctx, *note, common.HexToAddress(*recipient))
	if err != nil && !errors.Is(err, withdraw.ErrConfirmationPending) {
		log.Fatal(err)
	}
	out, _ := json.MarshalIndent(receipt, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		log.Warnw("transaction not yet confirmed", "tx", receipt.TxHash.Hex())
		os.Exit(2)
	}
}

func buildProver(wasmPath, zkeyPath, vkeyPath string) (*prover.Prover, error) {
	if wasmPath != "" && zkeyPath != "" {
		return prover.New(prover.Config{
			WasmPath:            wasmPath,
			ProvingKeyPath:      zkeyPath,
			VerificationKeyPath: vkeyPath,
		})
	}
	artifacts := prover.NewCircuitArtifacts(
		&prover.Artifact{RemoteURL: config.WithdrawCircuitURL, Hash: hexToBytes(config.WithdrawCircuitHash)},
		&prover.Artifact{RemoteURL: config.WithdrawProvingKeyURL, Hash: hexToBytes(config.WithdrawProvingKeyHash)},
		&prover.Artifact{RemoteURL: config.WithdrawVerificationKeyURL, Hash: hexToBytes(config.WithdrawVerificationKeyHash)},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := artifacts.LoadAll(); err != nil {
		log.Infow("artifacts not cached, downloading")
		if err := artifacts.DownloadAll(ctx); err != nil {
			return nil, err
		}
		if err := artifacts.LoadAll(); err != nil {
			return nil, err
		}
	}
	return prover.NewFromArtifacts(artifacts)
}

// waitSynced polls until the scanner cursor reaches the chain head.
func waitSynced(ctx context.Context, contracts *web3.Contracts, stg *storage.Storage) {
	for {
		head, err := contracts.BlockNumber(ctx)
		if err != nil {
			log.Fatal(err)
		}
		last, err := stg.LastBlockScanned()
		if err != nil {
			log.Fatal(err)
		}
		if last >= head {
			return
		}
		log.Debugw("syncing tree replica", "scanned", last, "head", head)
		time.Sleep(time.Second)
	}
}

func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		log.Fatalf("invalid artifact hash %q: %v", s, err)
	}
	return b
}
