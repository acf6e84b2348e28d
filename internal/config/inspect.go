package config

import (
	"github.com/spf13/pflag"

	"perpVault/internal/fixed"
)

// InspectConfig holds configuration for the inspect command.
type InspectConfig struct {
	In            string
	Out           string
	QuoteDecimals uint8
	BaseDecimals  uint8
	LogLevel      string
}

// LoadInspect merges config file, environment variables, and flags into InspectConfig.
func LoadInspect(cfgFile string, flags *pflag.FlagSet) (InspectConfig, error) {
	v := newViper()

	v.SetDefault("in", "./data/checkpoint.json")
	v.SetDefault("quote-decimals", fixed.DefaultQuoteDecimals)
	v.SetDefault("base-decimals", fixed.DefaultBaseDecimals)
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return InspectConfig{}, err
	}

	return InspectConfig{
		In:            v.GetString("in"),
		Out:           v.GetString("out"),
		QuoteDecimals: uint8(v.GetUint("quote-decimals")),
		BaseDecimals:  uint8(v.GetUint("base-decimals")),
		LogLevel:      v.GetString("log-level"),
	}, nil
}
