// veilpayd runs the off-chain node for the shielded pool: it tails the pool
// contract, maintains the Merkle tree replica and the nullifier set, and
// serves the query API. With a funded account and proving artifacts it can
// also submit withdrawals.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
	"go.vocdoni.io/dvote/log"

	"github.com/veilpay/veilpay/service"
	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/web3"
)

func main() {
	w3rpc := flag.String("w3rpc", "http://localhost:8545", "web3 rpc endpoint")
	poolAddr := flag.String("pool", "", "pool contract address")
	privKey := flag.String("privkey", "", "private key for submitting withdrawals (optional)")
	dataDir := flag.String("datadir", "./veilpay-data", "data directory")
	host := flag.String("host", "0.0.0.0", "API host")
	port := flag.Int("port", 8080, "API port")
	startBlock := flag.Uint64("start-block", 0, "pool contract deployment block")
	scanInterval := flag.Duration("scan-interval", 10*time.Second, "chain scan interval")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log.Init(*logLevel, "stdout", nil)
	if *poolAddr == "" {
		log.Fatal("missing pool contract address (-pool)")
	}

	contracts, err := web3.NewContracts(common.HexToAddress(*poolAddr), *w3rpc)
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("pool contract bound", "address", *poolAddr, "chainId", contracts.ChainID)
	if *privKey != "" {
		if err := contracts.SetAccountPrivateKey(*privKey); err != nil {
			log.Fatal(err)
		}
		log.Infow("withdrawal account loaded", "address", contracts.AccountAddress().Hex())
	}

	database, err := metadb.New(db.TypePebble, *dataDir)
	if err != nil {
		log.Fatal(err)
	}
	stg := storage.New(database)

	replica, err := tree.New()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	scanner := service.NewScanner(contracts, stg, replica, *startBlock, *scanInterval)
	if err := scanner.Start(ctx); err != nil {
		log.Fatal(err)
	}

	apiSrv := service.NewAPI(stg, replica, *host, *port)
	if err := apiSrv.Start(ctx); err != nil {
		log.Fatal(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("shutting down", "signal", sig.String())
	scanner.Stop()
	apiSrv.Stop()
	stg.Close()
}
