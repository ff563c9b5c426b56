package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chainindexor/erc20indexer/internal/chunkgov"
	"github.com/chainindexor/erc20indexer/internal/common"
	"github.com/chainindexor/erc20indexer/internal/coordinator"
	internaldb "github.com/chainindexor/erc20indexer/internal/db"
	"github.com/chainindexor/erc20indexer/internal/errorgov"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/internal/metrics"
	"github.com/chainindexor/erc20indexer/internal/migrations"
	"github.com/chainindexor/erc20indexer/internal/queue/redisqueue"
	"github.com/chainindexor/erc20indexer/internal/reorg"
	internalrpc "github.com/chainindexor/erc20indexer/internal/rpc"
	"github.com/chainindexor/erc20indexer/internal/store/sqlite"
	"github.com/chainindexor/erc20indexer/internal/worker"
	"github.com/chainindexor/erc20indexer/pkg/api"
	"github.com/chainindexor/erc20indexer/pkg/config"
	"github.com/chainindexor/erc20indexer/pkg/model"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	pkgstore "github.com/chainindexor/erc20indexer/pkg/store"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║      erc20indexer v%s                 ║
║  ERC-20 Transfer Event Indexing Engine    ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "erc20indexer - ERC-20 Transfer event indexing engine",
	Long:    `A polling-based, chain-agnostic engine that indexes ERC-20 Transfer events into a durable store, with reorg detection and an operator-facing control plane.`,
	Version: version,
	RunE:    run,
}

var listChainsCmd = &cobra.Command{
	Use:   "list-chains",
	Short: "List configured chains and their monitored contracts",
	Long:  `List every (chain, contract) pair defined in the configuration file, without connecting to any provider or starting the engine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(cfg.Chains) == 0 {
			fmt.Println("(no chains configured)")
			return nil
		}
		for _, chain := range cfg.Chains {
			fmt.Printf("chain %d (%s), start_block=%d\n", chain.ChainID, chain.Name, chain.StartBlock)
			if len(chain.Contracts) == 0 {
				fmt.Println("  (no contracts configured)")
				continue
			}
			for _, c := range chain.Contracts {
				status := "inactive"
				if c.Active {
					status = "active"
				}
				fmt.Printf("  - %s  %s (%s)  [%s]\n", c.Address, c.Name, c.Symbol, status)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(listChainsCmd)
}

func run(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	emergencyCh := make(chan os.Signal, 1)
	signal.Notify(emergencyCh, syscall.SIGUSR1)

	log, err := logger.NewLogger("info", false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	log.Info("running database migrations")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sqlDB, err := internaldb.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	maintenanceCfg := cfg.Maintenance
	dbMaintenance := internaldb.NewMaintenanceCoordinator(cfg.DB.Path, sqlDB, &maintenanceCfg,
		log.WithComponent(common.ComponentMaintenance))
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start db maintenance: %w", err)
	}
	defer dbMaintenance.Stop()

	store := sqlite.New(sqlDB, log.WithComponent(common.ComponentStore), cfg.DB)

	for _, chain := range cfg.Chains {
		for _, contract := range chain.Contracts {
			if !contract.Active {
				continue
			}
			c := &model.Contract{
				Address: contract.Address, Name: contract.Name,
				Symbol: contract.Symbol, Decimals: contract.Decimals,
				ChainIDs: []uint64{chain.ChainID}, Active: true,
			}
			if err := store.UpsertContract(ctx, c); err != nil {
				return fmt.Errorf("failed to register contract %s on chain %d: %w", contract.Address, chain.ChainID, err)
			}
		}
	}

	log.Info("connecting to chain RPC providers")
	ethClient, err := internalrpc.NewClient(ctx, cfg.Chains, log.WithComponent(common.ComponentRPC))
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}

	redisCfg := redisqueue.Config{
		Addr: cfg.Queue.Addr, Password: cfg.Queue.Password, DB: cfg.Queue.DB,
		StallTimeout: cfg.Queue.StallTimeout, MaxStalledCount: cfg.Queue.MaxStalledCount,
		CompletedRet: cfg.Queue.CompletedRetention, FailedRet: cfg.Queue.FailedRetention,
	}
	jobQueue, err := redisqueue.New(ctx, redisCfg, log.WithComponent(common.ComponentQueue))
	if err != nil {
		return fmt.Errorf("failed to connect to job queue: %w", err)
	}
	defer jobQueue.Close()

	chunkGov := chunkgov.New(cfg.Engine.MinCatchupChunk, cfg.Engine.MinCatchupChunk, cfg.Engine.MaxCatchupChunk)
	errorGov := errorgov.New(func(reason string) {
		log.Errorf("emergency shutdown requested: %s", reason)
		emergencyShutdown(context.Background(), store, jobQueue, log)
		cancel()
	})
	detector := reorg.New(ethClient, store, dbMaintenance, jobQueue, log)

	coord := coordinator.New(ethClient, store, jobQueue, chunkGov, errorGov, detector, cfg.Engine, cfg.Queue, log)
	coord.StartHealthCron(ctx)

	blockRangeWorker := worker.New(ethClient, store, jobQueue, chunkGov, errorGov, log)
	go func() {
		if err := blockRangeWorker.Run(ctx, cfg.Queue.BlockRangeWorkers); err != nil && ctx.Err() == nil {
			log.Errorf("block-range worker pool exited: %v", err)
		}
	}()

	catchupWorker := worker.NewCatchup(store, jobQueue, log)
	go func() {
		if err := catchupWorker.Run(ctx, cfg.Queue.CatchupWorkers); err != nil && ctx.Err() == nil {
			log.Errorf("catchup worker pool exited: %v", err)
		}
	}()

	reorgWorker := worker.NewReorg(store, jobQueue, log)
	go func() {
		if err := reorgWorker.Run(ctx, cfg.Queue.ReorgWorkers); err != nil && ctx.Err() == nil {
			log.Errorf("reorg worker pool exited: %v", err)
		}
	}()

	metricsServer := metrics.NewServer(cfg.API.MetricsAddr)
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer metricsServer.Stop(ctx)

	apiServer := api.NewServer(cfg.API, cfg.Engine.CatchUpRepeatWindow, coord, store, jobQueue,
		log.WithComponent(common.ComponentAPI))
	go func() {
		if err := apiServer.ListenAndServe(); err != nil {
			log.Errorf("control-plane API server error: %v", err)
		}
	}()

	log.Info("resuming indexer states previously marked running")
	runningStates, err := store.GetAllRunningStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running states at startup: %w", err)
	}
	for _, s := range runningStates {
		if _, err := coord.StartIndexer(ctx, s.ChainID, s.ContractAddress, nil); err != nil {
			log.Errorf("failed to resume indexer chain=%d contract=%s: %v", s.ChainID, s.ContractAddress, err)
		}
	}

	log.Info("erc20indexer running")

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down gracefully", sig)
		cancel()
	case <-emergencyCh:
		log.Warn("received emergency shutdown signal, pausing queues and marking running states as error")
		metrics.EmergencyShutdowns.Inc()
		emergencyShutdown(context.Background(), store, jobQueue, log)
		cancel()
	case <-ctx.Done():
	}

	coord.Shutdown(cfg.Engine.ShutdownGracePeriod)
	_ = apiServer.Shutdown(context.Background())

	log.Info("erc20indexer stopped")
	return nil
}

// emergencyShutdown pauses every durable queue and marks every running
// indexer state as error, bypassing the coordinator's normal stop path
// (which only pauses queues once every pair has stopped), halting ingestion
// immediately, process-wide. It runs on SIGUSR1 and when the error
// governor's thresholds are breached.
func emergencyShutdown(ctx context.Context, storePorts pkgstore.Ports, queuePorts pkgqueue.Ports, log *logger.Logger) {
	for _, q := range []pkgqueue.Name{pkgqueue.BlockRanges, pkgqueue.Catchup, pkgqueue.Reorg} {
		if err := queuePorts.Pause(ctx, q); err != nil {
			log.Errorf("emergency shutdown: failed to pause queue %s: %v", q, err)
		}
	}

	states, err := storePorts.GetAllRunningStates(ctx)
	if err != nil {
		log.Errorf("emergency shutdown: failed to list running states: %v", err)
		return
	}
	for _, s := range states {
		if err := storePorts.UpdateStatus(ctx, s.ChainID, s.ContractAddress, model.StatusError); err != nil {
			log.Errorf("emergency shutdown: failed to mark chain=%d contract=%s error: %v", s.ChainID, s.ContractAddress, err)
		}
	}
}
