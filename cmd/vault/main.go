package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "vault",
		Short:        "Margin vault engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replay an operations file against the vault",
		RunE:  runReplay,
	}

	runCmd.Flags().String("in", "", "input operations JSONL")
	runCmd.Flags().String("out", "./data/receipts.jsonl", "output receipts JSONL path")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("batch-size", 100, "operations per receipt batch and checkpoint")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts for oracle and database calls")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("name", "default", "vault name used for database rows and snapshots")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (optional)")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (optional)")
	runCmd.Flags().String("rpc", "", "RPC URL for the on-chain price feed (optional)")
	runCmd.Flags().String("feed", "", "Chainlink aggregator address")
	runCmd.Flags().Duration("feed-max-age", time.Hour, "reject feed answers older than this")
	runCmd.Flags().String("price", "", "initial mark price when no feed is configured")
	runCmd.Flags().String("volatility", "80", "implied volatility in percent")
	runCmd.Flags().String("slippage", "0.3", "simulated swap slippage in percent")
	runCmd.Flags().String("start-time", "", "simulation start (unix seconds or RFC3339), defaults to now")
	runCmd.Flags().String("initial-expiry", "", "expiry of the first epoch, defaults to start + epoch length")
	runCmd.Flags().Duration("epoch-length", 7*24*time.Hour, "default epoch length")
	runCmd.Flags().Uint("quote-decimals", 6, "quote asset decimals")
	runCmd.Flags().Uint("base-decimals", 18, "base asset decimals")
	runCmd.Flags().String("fee-open-rate", "0.05", "opening fee in percent of notional")
	runCmd.Flags().String("fee-close-rate", "0.05", "closing fee in percent of notional")
	runCmd.Flags().String("min-funding-rate", "3.65", "annual funding rate at zero utilization, percent")
	runCmd.Flags().String("max-funding-rate", "36.5", "annual funding rate at full utilization, percent")
	runCmd.Flags().String("liquidation-threshold", "10", "minimum net margin in percent of notional")
	runCmd.Flags().String("liquidation-fee-rate", "1", "liquidator reward in percent of margin")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a checkpoint as pool, position and claim summaries",
		RunE:  runInspect,
	}

	inspectCmd.Flags().String("in", "./data/checkpoint.json", "checkpoint file")
	inspectCmd.Flags().String("out", "", "output JSONL path, stdout when empty")
	inspectCmd.Flags().Uint("quote-decimals", 6, "quote asset decimals")
	inspectCmd.Flags().Uint("base-decimals", 18, "base asset decimals")
	inspectCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(inspectCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
