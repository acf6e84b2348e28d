package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perpVault/internal/aggregate"
	"perpVault/internal/chain"
	"perpVault/internal/config"
	"perpVault/internal/custody"
	"perpVault/internal/fixed"
	"perpVault/internal/metrics"
	"perpVault/internal/oracle"
	"perpVault/internal/pricing"
	"perpVault/internal/replay"
	"perpVault/internal/storage"
	"perpVault/internal/storage/postgres"
	"perpVault/internal/vault"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.RPCURL != "" && !common.IsHexAddress(cfg.FeedAddress) {
		return fmt.Errorf("feed address is required with rpc")
	}

	params, err := cfg.Params()
	if err != nil {
		return err
	}
	volatility, err := fixed.Percent(cfg.Volatility)
	if err != nil {
		return fmt.Errorf("volatility: %w", err)
	}
	slippage, err := fixed.Percent(cfg.Slippage)
	if err != nil {
		return fmt.Errorf("slippage: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var vols, prices *oracle.Static
	var price vault.PriceOracle
	var chainStart time.Time

	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		chainID, err := chainClient.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		ts, err := chainClient.LatestTimestamp(ctx)
		if err != nil {
			return fmt.Errorf("latest block time: %w", err)
		}
		chainStart = time.Unix(int64(ts), 0).UTC()

		feed := oracle.NewChainlinkFeed(chainClient, common.HexToAddress(cfg.FeedAddress), cfg.FeedMaxAge, logger)
		desc, err := feed.Description(ctx)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		logger.Info("price feed", zap.String("chain_id", chainID.String()), zap.String("feed", cfg.FeedAddress), zap.String("pair", desc))
		price = feed
		vols = oracle.NewStatic(nil, volatility)
	} else {
		prices = oracle.NewStatic(nil, volatility)
		if cfg.Price != "" {
			initial, err := fixed.Parse(cfg.Price, fixed.PriceDecimals)
			if err != nil {
				return fmt.Errorf("price: %w", err)
			}
			prices.SetPrice(initial)
		}
		vols = prices
		price = prices
	}

	start, err := replay.ParseTimestamp(cfg.StartTime)
	if err != nil {
		return fmt.Errorf("parse start-time: %w", err)
	}
	if start.IsZero() {
		start = chainStart
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	expiry, err := replay.ParseTimestamp(cfg.InitialExpiry)
	if err != nil {
		return fmt.Errorf("parse initial-expiry: %w", err)
	}
	if expiry.IsZero() {
		expiry = start.Add(cfg.EpochLength)
	}

	clock := replay.NewClock(start)
	units := fixed.NewUnits(params.QuoteDecimals, params.BaseDecimals)
	ledger := custody.NewMemory()
	engine, err := vault.New(params, vault.Deps{
		Price:      price,
		Volatility: vols,
		Pricer:     pricing.NewBlackScholes(clock.Now),
		Swap:       custody.NewSwapper(ledger, price, units, slippage),
		Custody:    ledger,
	}, expiry, vault.WithClock(clock.Now), vault.WithLogger(logger))
	if err != nil {
		return err
	}

	var opts []replay.RunnerOption
	var checkpoint replay.CheckpointStore
	if cfg.CheckpointEnabled {
		checkpoint = &replay.FileCheckpointStore{Path: cfg.Checkpoint}
	}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()

		opts = append(opts, replay.WithExporter(aggregate.NewExporter(store, cfg.Name, units, cfg.BatchSize, logger)))
		if cfg.CheckpointEnabled && cfg.Checkpoint == "" {
			checkpoint = &replay.DBCheckpointStore{Store: store, Name: "replay:" + cfg.Name}
		}
	}
	if checkpoint != nil {
		opts = append(opts, replay.WithCheckpoint(checkpoint))
	}

	sink := storage.NewJsonlStorage(cfg.Out)
	if checkpoint == nil {
		if err := sink.Reset(); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr != "" {
		vaultMetrics := metrics.New("vault")
		opts = append(opts, replay.WithRecorder(vaultMetrics))
		go func() {
			if err := vaultMetrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	runner := replay.NewRunner(replay.RunConfig{
		InputPath:    cfg.In,
		BatchSize:    cfg.BatchSize,
		EpochLength:  cfg.EpochLength,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, replay.Env{
		Engine:  engine,
		Custody: ledger,
		Clock:   clock,
		Price:   price,
		Prices:  prices,
		Vols:    vols,
	}, sink, logger, opts...)

	logger.Info("replay start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("name", cfg.Name),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Time("start", start),
		zap.Time("initial_expiry", expiry),
	)

	_, err = runner.Run(ctx)
	return err
}
