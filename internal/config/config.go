package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"perpVault/internal/fixed"
	"perpVault/internal/vault"
)

// Config holds configuration for the run command, loaded from flags, env, or config file.
type Config struct {
	In                string
	Out               string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         int
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string

	Name        string
	PGDSN       string
	MetricsAddr string

	RPCURL      string
	FeedAddress string
	FeedMaxAge  time.Duration
	Price       string
	Volatility  string
	Slippage    string

	StartTime     string
	InitialExpiry string
	EpochLength   time.Duration

	QuoteDecimals        uint8
	BaseDecimals         uint8
	FeeOpenRate          string
	FeeCloseRate         string
	MinFundingRate       string
	MaxFundingRate       string
	LiquidationThreshold string
	LiquidationFeeRate   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()

	v.SetDefault("out", "./data/receipts.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("batch-size", 100)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
	v.SetDefault("name", "default")
	v.SetDefault("feed-max-age", time.Hour)
	v.SetDefault("volatility", "80")
	v.SetDefault("slippage", "0.3")
	v.SetDefault("epoch-length", 7*24*time.Hour)
	v.SetDefault("quote-decimals", fixed.DefaultQuoteDecimals)
	v.SetDefault("base-decimals", fixed.DefaultBaseDecimals)
	v.SetDefault("fee-open-rate", "0.05")
	v.SetDefault("fee-close-rate", "0.05")
	v.SetDefault("min-funding-rate", "3.65")
	v.SetDefault("max-funding-rate", "36.5")
	v.SetDefault("liquidation-threshold", "10")
	v.SetDefault("liquidation-fee-rate", "1")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		In:                   v.GetString("in"),
		Out:                  v.GetString("out"),
		Checkpoint:           v.GetString("checkpoint"),
		CheckpointEnabled:    v.GetBool("checkpoint-enabled"),
		BatchSize:            v.GetInt("batch-size"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		LogLevel:             v.GetString("log-level"),
		Name:                 v.GetString("name"),
		PGDSN:                v.GetString("pg-dsn"),
		MetricsAddr:          v.GetString("metrics-addr"),
		RPCURL:               v.GetString("rpc"),
		FeedAddress:          v.GetString("feed"),
		FeedMaxAge:           v.GetDuration("feed-max-age"),
		Price:                v.GetString("price"),
		Volatility:           v.GetString("volatility"),
		Slippage:             v.GetString("slippage"),
		StartTime:            v.GetString("start-time"),
		InitialExpiry:        v.GetString("initial-expiry"),
		EpochLength:          v.GetDuration("epoch-length"),
		QuoteDecimals:        uint8(v.GetUint("quote-decimals")),
		BaseDecimals:         uint8(v.GetUint("base-decimals")),
		FeeOpenRate:          v.GetString("fee-open-rate"),
		FeeCloseRate:         v.GetString("fee-close-rate"),
		MinFundingRate:       v.GetString("min-funding-rate"),
		MaxFundingRate:       v.GetString("max-funding-rate"),
		LiquidationThreshold: v.GetString("liquidation-threshold"),
		LiquidationFeeRate:   v.GetString("liquidation-fee-rate"),
	}

	return cfg, nil
}

// Params converts the configured percentages into engine parameters.
func (c Config) Params() (vault.Params, error) {
	params := vault.Params{
		QuoteDecimals: c.QuoteDecimals,
		BaseDecimals:  c.BaseDecimals,
	}
	rates := []struct {
		key    string
		value  string
		target **big.Int
	}{
		{"fee-open-rate", c.FeeOpenRate, &params.FeeOpenRate},
		{"fee-close-rate", c.FeeCloseRate, &params.FeeCloseRate},
		{"min-funding-rate", c.MinFundingRate, &params.MinFundingRate},
		{"max-funding-rate", c.MaxFundingRate, &params.MaxFundingRate},
		{"liquidation-threshold", c.LiquidationThreshold, &params.LiquidationThreshold},
		{"liquidation-fee-rate", c.LiquidationFeeRate, &params.LiquidationFeeRate},
	}
	for _, r := range rates {
		v, err := fixed.Percent(strings.TrimSpace(r.value))
		if err != nil {
			return vault.Params{}, fmt.Errorf("%s: %w", r.key, err)
		}
		*r.target = v
	}
	if err := params.Validate(); err != nil {
		return vault.Params{}, err
	}
	return params, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("VAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
