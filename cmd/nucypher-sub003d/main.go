// This file is part of nucypher-sub003.
//
// nucypher-sub003 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// nucypher-sub003 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with nucypher-sub003. If not, see <https://www.gnu.org/licenses/>.

// Command nucypher-sub003d runs the transaction tracker against a live
// chain RPC endpoint. CLI ergonomics are explicitly out of scope for
// this project; this binary exists to exercise the wiring, not to be a
// production operator tool.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nucypher/nucypher-sub003/config"
	"github.com/nucypher/nucypher-sub003/txtracker"
)

// boundSigner adapts a go-ethereum bind.TransactOpts into txtracker.Signer
// without exposing the underlying private key to the tracker.
type boundSigner struct {
	auth *bind.TransactOpts
}

func (s *boundSigner) Address() common.Address {
	return s.auth.From
}

func (s *boundSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return s.auth.Signer(s.auth.From, tx)
}

func main() {
	rpcURL := flag.String("rpc", "", "JSON-RPC endpoint")
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	speedup := flag.String("speedup", "", "if set, broadcast a fee-bumped replacement for this tx hash and exit")
	flag.Parse()

	logger := log.New("component", "nucypher-sub003d")

	if *rpcURL == "" {
		logger.Error("missing required -rpc flag")
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	privHex := strings.TrimPrefix(os.Getenv("NUCYPHER_PRIVATE_KEY"), "0x")
	if privHex == "" {
		logger.Error("NUCYPHER_PRIVATE_KEY environment variable is required")
		os.Exit(1)
	}
	key, err := crypto.HexToECDSA(privHex)
	if err != nil {
		logger.Error("invalid NUCYPHER_PRIVATE_KEY", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		logger.Error("failed to dial RPC endpoint", "rpc", *rpcURL, "err", err)
		os.Exit(1)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		logger.Error("failed to fetch chain id", "err", err)
		os.Exit(1)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		logger.Error("failed to build transactor", "err", err)
		os.Exit(1)
	}
	signer := &boundSigner{auth: auth}

	tracker := txtracker.New(client, signer, cfg.MaxTipWei(), cfg.TrackerTimeout(), cfg.Tracker.PersistPath,
		txtracker.WithBlockInterval(cfg.Tracker.BlockInterval),
		txtracker.WithBlockSampleSize(cfg.Tracker.BlockSampleSize),
		txtracker.WithRPCThrottle(cfg.RPCThrottle()),
		txtracker.WithLogger(logger),
	)

	if *speedup != "" {
		newHash, err := tracker.SpeedupTransaction(ctx, common.HexToHash(*speedup))
		if err != nil {
			logger.Error("speedup failed", "err", err)
			os.Exit(1)
		}
		logger.Info("broadcast replacement transaction", "txHash", newHash.Hex())
		return
	}

	if err := tracker.Start(ctx, true); err != nil {
		logger.Error("failed to start transaction tracker", "err", err)
		os.Exit(1)
	}
	<-ctx.Done()
	tracker.Stop()
}
