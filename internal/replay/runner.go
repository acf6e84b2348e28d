package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"go.uber.org/zap"

	"perpVault/internal/custody"
	"perpVault/internal/metrics"
	"perpVault/internal/model"
	"perpVault/internal/storage"
	"perpVault/internal/vault"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	InputPath    string
	BatchSize    int
	EpochLength  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Exporter publishes the ledger after each batch, e.g. to Postgres.
type Exporter interface {
	Export(ctx context.Context, st vault.State, mark *big.Int, at time.Time) error
}

// Recorder receives per-operation outcomes and samples the engine.
type Recorder interface {
	RecordOperation(op string, err error)
	Observe(ctx context.Context, src metrics.Source) error
}

// Summary counts what a run did.
type Summary struct {
	Applied  int
	Rejected int
	Skipped  int
	LastLine uint64
}

// Runner applies a JSONL operation file to the engine and writes receipts.
type Runner struct {
	cfg        RunConfig
	env        Env
	storage    storage.Storage
	checkpoint CheckpointStore
	exporter   Exporter
	recorder   Recorder
	logger     *zap.Logger
	applier    *applier
}

// RunnerOption configures optional Runner collaborators.
type RunnerOption func(*Runner)

func WithCheckpoint(store CheckpointStore) RunnerOption {
	return func(r *Runner) { r.checkpoint = store }
}

func WithExporter(exporter Exporter) RunnerOption {
	return func(r *Runner) { r.exporter = exporter }
}

func WithRecorder(recorder Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = recorder }
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, env Env, sink storage.Storage, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:     cfg,
		env:     env,
		storage: sink,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.applier = &applier{env: env, epochLength: cfg.EpochLength, logger: logger}
	return r
}

// Run replays the input file, resuming after the last checkpointed line.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.env.Engine == nil || r.env.Custody == nil || r.env.Clock == nil || r.env.Vols == nil {
		return summary, fmt.Errorf("replay environment is incomplete")
	}
	if r.storage == nil {
		return summary, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize <= 0 {
		return summary, fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.EpochLength <= 0 {
		return summary, fmt.Errorf("epoch length must be greater than zero")
	}

	resumeAfter, err := r.resume(ctx)
	if err != nil {
		return summary, err
	}
	summary.LastLine = resumeAfter

	file, err := os.Open(r.cfg.InputPath)
	if err != nil {
		return summary, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.Receipt, 0, r.cfg.BatchSize)
	var lineNo uint64
	for scanner.Scan() {
		lineNo++
		if lineNo <= resumeAfter {
			continue
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			summary.Skipped++
			continue
		}

		select {
		case <-ctx.Done():
			if err := r.flush(ctx, batch, summary.LastLine); err != nil {
				r.logger.Warn("flush on shutdown failed", zap.Error(err))
			}
			return summary, ctx.Err()
		default:
		}

		receipt := r.applyLine(ctx, lineNo, line)
		if receipt.OK {
			summary.Applied++
		} else {
			summary.Rejected++
		}
		summary.LastLine = lineNo
		batch = append(batch, receipt)

		if len(batch) >= r.cfg.BatchSize {
			if err := r.flush(ctx, batch, lineNo); err != nil {
				return summary, err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("scan input: %w", err)
	}
	if err := r.flush(ctx, batch, summary.LastLine); err != nil {
		return summary, err
	}

	r.logger.Info("replay complete",
		zap.Int("applied", summary.Applied),
		zap.Int("rejected", summary.Rejected),
		zap.Int("skipped", summary.Skipped),
		zap.Uint64("last_line", summary.LastLine),
	)
	return summary, nil
}

func (r *Runner) resume(ctx context.Context) (uint64, error) {
	if r.checkpoint == nil {
		return 0, nil
	}
	cp, ok, err := r.checkpoint.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if err := r.env.Engine.Restore(*cp.State); err != nil {
		return 0, fmt.Errorf("restore engine: %w", err)
	}
	r.env.Custody.Restore(cp.Custody)
	if err := r.env.Clock.Set(cp.Clock); err != nil {
		return 0, fmt.Errorf("restore clock: %w", err)
	}
	if cp.Price != nil && r.env.Prices != nil {
		r.env.Prices.SetPrice(cp.Price)
	}
	if cp.Volatility != nil {
		r.env.Vols.SetVolatility(cp.Volatility)
	}
	r.logger.Info("resume from checkpoint", zap.Uint64("last_line", cp.LastLine), zap.Time("clock", cp.Clock))
	return cp.LastLine, nil
}

func (r *Runner) applyLine(ctx context.Context, lineNo uint64, line []byte) model.Receipt {
	receipt := model.Receipt{Line: lineNo}

	var op model.Operation
	if err := json.Unmarshal(line, &op); err != nil {
		receipt.ErrorKind = model.ErrorKindMalformed
		receipt.Error = err.Error()
		receipt.AppliedAt = r.env.Clock.Now().Format(time.RFC3339Nano)
		r.logger.Warn("malformed operation", zap.Uint64("line", lineNo), zap.Error(err))
		return receipt
	}
	receipt.Op = op.Op

	var result interface{}
	transient := func(err error) bool {
		return model.ErrorKind(err) == "internal" && !errors.Is(err, custody.ErrInsufficientFunds)
	}
	err := withRetry(ctx, r.logger, op.Op, r.cfg.MaxRetries, r.cfg.RetryBackoff, transient, func(ctx context.Context) error {
		var err error
		result, err = r.applier.apply(ctx, op)
		return err
	})
	if r.recorder != nil {
		r.recorder.RecordOperation(op.Op, err)
	}

	receipt.AppliedAt = r.env.Clock.Now().Format(time.RFC3339Nano)
	if err != nil {
		receipt.ErrorKind = model.ErrorKind(err)
		receipt.Error = err.Error()
		r.logger.Debug("operation rejected", zap.Uint64("line", lineNo), zap.String("op", op.Op), zap.Error(err))
		return receipt
	}
	receipt.OK = true
	receipt.Result = result
	return receipt
}

// flush writes receipts, then checkpoints, exports and samples metrics.
func (r *Runner) flush(ctx context.Context, batch []model.Receipt, lastLine uint64) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.storage.PutReceiptBatch(batch); err != nil {
		return fmt.Errorf("store receipts: %w", err)
	}

	st, err := r.env.Engine.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	now := r.env.Clock.Now()
	price, vol := r.env.checkpointPrices(ctx)

	if r.checkpoint != nil {
		cp := Checkpoint{
			LastLine:   lastLine,
			State:      &st,
			Custody:    r.env.Custody.Snapshot(),
			Clock:      now,
			Price:      price,
			Volatility: vol,
		}
		if err := r.checkpoint.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}

	if r.exporter != nil {
		mark := r.markPrice(ctx)
		err := withRetry(ctx, r.logger, "export", r.cfg.MaxRetries, r.cfg.RetryBackoff, nil, func(ctx context.Context) error {
			return r.exporter.Export(ctx, st, mark, now)
		})
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	if r.recorder != nil {
		if err := r.recorder.Observe(ctx, r.env.Engine); err != nil {
			r.logger.Warn("observe metrics failed", zap.Error(err))
		}
	}

	r.logger.Info("batch complete", zap.Int("receipts", len(batch)), zap.Uint64("last_line", lastLine))
	return nil
}

func (r *Runner) markPrice(ctx context.Context) *big.Int {
	if r.env.Price == nil {
		return nil
	}
	mark, err := r.env.Price.MarkPrice(ctx)
	if err != nil {
		r.logger.Warn("mark price unavailable for export", zap.Error(err))
		return nil
	}
	return mark
}
