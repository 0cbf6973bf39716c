// Command indexer runs the Ethereum chain indexer as a background
// service: no HTTP API, a single sync supervisor loop, and a
// filter-config watcher. Grounded on original_source/src/main.rs and
// startup/startup.rs's Application::build/run split, re-expressed as
// a urfave/cli/v2 entrypoint the way the teacher's op-node-family
// binaries are structured.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ethsync/indexer/internal/apperr"
	"github.com/ethsync/indexer/internal/config"
	"github.com/ethsync/indexer/internal/filter"
	"github.com/ethsync/indexer/internal/logging"
	"github.com/ethsync/indexer/internal/rpcpool"
	"github.com/ethsync/indexer/internal/store"
	"github.com/ethsync/indexer/internal/sync"
)

var (
	configDirFlag = &cli.StringFlag{
		Name:    "config-dir",
		Usage:   "directory holding default.toml and the environment overlay",
		Value:   "config",
		EnvVars: []string{"INDEXER_CONFIG_DIR"},
	}
	contractsFileFlag = &cli.StringFlag{
		Name:    "contracts-file",
		Usage:   "path to the watched ERC-20 contracts TOML file",
		Value:   "config/contracts.toml",
		EnvVars: []string{"INDEXER_CONTRACTS_FILE"},
	}
	addressesFileFlag = &cli.StringFlag{
		Name:    "addresses-file",
		Usage:   "path to the watched user addresses TOML file",
		Value:   "config/address.toml",
		EnvVars: []string{"INDEXER_ADDRESSES_FILE"},
	}
	migrateFlag = &cli.BoolFlag{
		Name:  "migrate",
		Usage: "run schema auto-migration before starting the sync loop",
		Value: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "index native ETH and ERC-20 transfers for a watched address set",
		Flags: []cli.Flag{configDirFlag, contractsFileFlag, addressesFileFlag, migrateFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := logging.New()

	cfg, err := config.Load(c.String(configDirFlag.Name))
	if err != nil {
		return apperr.Wrap(err, "load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := store.Open(cfg.Database, logger)
	if err != nil {
		return apperr.Wrap(err, "open database")
	}
	if c.Bool(migrateFlag.Name) {
		if err := gateway.AutoMigrate(); err != nil {
			return apperr.Wrap(err, "auto-migrate schema")
		}
	}

	pool, err := rpcpool.NewPool(ctx, logger, cfg.Ethereum.RPCURL, cfg.Ethereum.APIKeys)
	if err != nil {
		return apperr.Wrap(err, "initialize rpc pool")
	}
	retryClient := rpcpool.NewRetryClient(pool, cfg.Ethereum.MaxRetries, secondsToDuration(cfg.Ethereum.BaseDelaySecs), logger)

	if err := checkChainID(ctx, retryClient, cfg.Ethereum.ChainID); err != nil {
		return err
	}

	filters, err := filter.NewRegistry(logger, c.String(contractsFileFlag.Name), c.String(addressesFileFlag.Name))
	if err != nil {
		return apperr.Wrap(err, "load filter configuration")
	}
	defer filters.Close()

	engine := sync.NewEngine(logger, retryClient, gateway, filters, cfg.Ethereum.InitHeight, cfg.Ethereum.Delay)
	supervisor := sync.NewSupervisor(logger, engine)

	logger.Info("indexer starting", "chain_id", cfg.Ethereum.ChainID, "init_height", cfg.Ethereum.InitHeight, "delay", cfg.Ethereum.Delay, "endpoints", pool.Len())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return supervisor.Run(gctx)
	})

	if err := group.Wait(); err != nil {
		return apperr.Wrap(err, "indexer supervisor")
	}

	logger.Info("indexer shut down cleanly")
	return nil
}

// checkChainID queries the configured RPC's chain ID and fails fast
// on a mismatch against the configured value, so a misconfigured
// rpc_url/chain_id pair is caught at startup rather than after the
// first block commits to the wrong chain.
func checkChainID(ctx context.Context, client rpcpool.Client, want uint64) error {
	got, err := client.ChainID(ctx)
	if err != nil {
		return apperr.Wrap(err, "query rpc chain id")
	}
	if got.Cmp(new(big.Int).SetUint64(want)) != 0 {
		return fmt.Errorf("configured chain_id %d does not match rpc chain id %s", want, got.String())
	}
	return nil
}

func secondsToDuration(secs uint64) time.Duration {
	return time.Duration(secs) * time.Second
}
