package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perpVault/internal/aggregate"
	"perpVault/internal/config"
	"perpVault/internal/fixed"
	"perpVault/internal/replay"
)

type summaryLine struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadInspect(cfgFile, cmd.Flags())
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

	cp, err := replay.ReadCheckpointFile(cfg.In)
	if err != nil {
		return err
	}

	var out *jsonlWriter
	if cfg.Out == "" {
		out = &jsonlWriter{writer: bufio.NewWriter(os.Stdout)}
	} else {
		out, err = newJSONLWriter(cfg.Out, false)
		if err != nil {
			return err
		}
	}
	defer out.Close()

	units := fixed.NewUnits(cfg.QuoteDecimals, cfg.BaseDecimals)
	observedAt := cp.Clock
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}
	st := *cp.State

	if err := out.Write(summaryLine{Kind: "checkpoint", Value: map[string]interface{}{
		"last_line":     cp.LastLine,
		"clock":         cp.Clock,
		"updated_at":    cp.UpdatedAt,
		"epoch":         st.Epoch.CurrentEpoch,
		"epoch_expiry":  st.Epoch.CurrentExpiry,
		"mark_price":    formatOptional(cp.Price, fixed.PriceDecimals),
		"volatility":    formatOptional(cp.Volatility, fixed.RateDecimals),
		"withdrawals":   len(st.Withdrawals),
		"expiry_prices": len(st.Epoch.ExpiryPrices),
	}}); err != nil {
		return err
	}
	for _, row := range aggregate.PoolRows("inspect", st, units, cp.Price, observedAt) {
		if err := out.Write(summaryLine{Kind: "pool", Value: row}); err != nil {
			return err
		}
	}
	for _, row := range aggregate.PositionRows("inspect", st.Positions, units) {
		if err := out.Write(summaryLine{Kind: "position", Value: row}); err != nil {
			return err
		}
	}
	for _, row := range aggregate.ClaimRows("inspect", st.Claims) {
		if err := out.Write(summaryLine{Kind: "claim", Value: row}); err != nil {
			return err
		}
	}

	logger.Debug("inspect complete",
		zap.String("in", cfg.In),
		zap.Int("positions", len(st.Positions)),
		zap.Int("claims", len(st.Claims)),
	)
	return nil
}

func formatOptional(v *big.Int, decimals uint8) string {
	if v == nil {
		return ""
	}
	return fixed.Format(v, decimals)
}

type jsonlWriter struct {
	file   *os.File
	writer *bufio.Writer
}

func newJSONLWriter(path string, appendMode bool) (*jsonlWriter, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &jsonlWriter{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (w *jsonlWriter) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if w == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return err
	}
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
