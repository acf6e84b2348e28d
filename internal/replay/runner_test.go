package replay

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"perpVault/internal/custody"
	"perpVault/internal/fixed"
	"perpVault/internal/model"
	"perpVault/internal/oracle"
	"perpVault/internal/pricing"
	"perpVault/internal/storage"
	"perpVault/internal/vault"
)

const (
	lpAddr       = "0x00000000000000000000000000000000000000a1"
	traderAddr   = "0x00000000000000000000000000000000000000b2"
	strangerAddr = "0x00000000000000000000000000000000000000c3"
)

var replayStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) Env {
	t.Helper()
	clock := NewClock(replayStart)
	static := oracle.NewStatic(nil, fixed.MustParse("80", fixed.RateDecimals))
	mem := custody.NewMemory()
	params := vault.DefaultParams()
	units := fixed.NewUnits(params.QuoteDecimals, params.BaseDecimals)
	engine, err := vault.New(params, vault.Deps{
		Price:      static,
		Volatility: static,
		Pricer:     pricing.NewBlackScholes(clock.Now),
		Swap:       custody.NewSwapper(mem, static, units, new(big.Int)),
		Custody:    mem,
	}, replayStart.Add(7*24*time.Hour), vault.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return Env{Engine: engine, Custody: mem, Clock: clock, Price: static, Prices: static, Vols: static}
}

func writeOps(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write ops: %v", err)
	}
}

func runConfig(path string) RunConfig {
	return RunConfig{
		InputPath:    path,
		BatchSize:    4,
		EpochLength:  7 * 24 * time.Hour,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	}
}

type memCheckpoints struct {
	cp    *Checkpoint
	saves int
}

func (m *memCheckpoints) Load(context.Context) (Checkpoint, bool, error) {
	if m.cp == nil {
		return Checkpoint{}, false, nil
	}
	return *m.cp, true, nil
}

func (m *memCheckpoints) Save(_ context.Context, cp Checkpoint) error {
	m.cp = &cp
	m.saves++
	return nil
}

var seedOps = []string{
	`{"op":"set_price","price":"1000"}`,
	`{"op":"credit","account":"` + lpAddr + `","asset":"quote","amount":"10000"}`,
	`{"op":"credit","account":"` + lpAddr + `","asset":"base","amount":"10"}`,
	`{"op":"credit","account":"` + traderAddr + `","asset":"quote","amount":"1000"}`,
	`{"op":"deposit","account":"` + lpAddr + `","side":"quote","amount":"10000"}`,
	`{"op":"deposit","account":"` + lpAddr + `","side":"base","amount":"10"}`,
}

func TestRunnerAppliesAndRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	lines := append([]string{}, seedOps...)
	lines = append(lines,
		`not json`,
		``,
		`{"op":"open","account":"`+traderAddr+`","notional":"1000","collateral":"500"}`,
		`{"op":"close","account":"`+strangerAddr+`","id":1}`,
		`{"op":"bogus"}`,
	)
	writeOps(t, path, lines...)

	env := newEnv(t)
	sink := &storage.MemoryStorage{}
	checkpoints := &memCheckpoints{}
	runner := NewRunner(runConfig(path), env, sink, nil, WithCheckpoint(checkpoints))

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Applied != 7 || summary.Rejected != 3 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.LastLine != 11 {
		t.Fatalf("last line = %d, want 11", summary.LastLine)
	}

	receipts := sink.Receipts()
	if len(receipts) != 10 {
		t.Fatalf("expected 10 receipts, got %d", len(receipts))
	}
	kinds := map[uint64]string{}
	for _, r := range receipts {
		kinds[r.Line] = r.ErrorKind
	}
	if kinds[7] != model.ErrorKindMalformed {
		t.Fatalf("line 7 kind = %q", kinds[7])
	}
	if kinds[10] != "not_authorized" {
		t.Fatalf("line 10 kind = %q", kinds[10])
	}
	if kinds[11] != "invalid_request" {
		t.Fatalf("line 11 kind = %q", kinds[11])
	}

	open := receipts[7]
	if !open.OK || open.Op != model.OpOpen {
		t.Fatalf("open receipt: %+v", open)
	}
	result, ok := open.Result.(model.OpenResult)
	if !ok || result.PositionID != 1 || result.MarkPrice != "1000" {
		t.Fatalf("open result: %+v", open.Result)
	}

	if checkpoints.saves != 3 {
		t.Fatalf("expected 3 checkpoint saves, got %d", checkpoints.saves)
	}
	if checkpoints.cp.LastLine != 11 || checkpoints.cp.State.NextPositionID != 1 {
		t.Fatalf("unexpected checkpoint: line %d next position %d", checkpoints.cp.LastLine, checkpoints.cp.State.NextPositionID)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	lines := append([]string{}, seedOps...)
	lines = append(lines, `{"op":"open","account":"`+traderAddr+`","notional":"1000","collateral":"500"}`)
	writeOps(t, path, lines...)

	checkpoints := &memCheckpoints{}
	first := NewRunner(runConfig(path), newEnv(t), &storage.MemoryStorage{}, nil, WithCheckpoint(checkpoints))
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	lines = append(lines,
		`{"op":"set_time","time":"2026-01-02T00:00:00Z"}`,
		`{"op":"close","account":"`+traderAddr+`","id":1}`,
	)
	writeOps(t, path, lines...)

	env := newEnv(t)
	sink := &storage.MemoryStorage{}
	second := NewRunner(runConfig(path), env, sink, nil, WithCheckpoint(checkpoints))
	summary, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Applied != 2 || summary.Rejected != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	receipts := sink.Receipts()
	if len(receipts) != 2 || receipts[0].Line != 8 {
		t.Fatalf("expected receipts for lines 8 and 9, got %+v", receipts)
	}

	pos, err := env.Engine.Position(1)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Status != vault.StatusClosed {
		t.Fatalf("position status = %s", pos.Status)
	}
	if !env.Clock.Now().Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("clock = %s", env.Clock.Now())
	}
	trader, err := ParseAddress(traderAddr)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	// 500 stayed with the trader; the close pays back the remaining margin
	if env.Custody.Balance(vault.AssetQuote, trader).Cmp(fixed.MustParse("500", fixed.DefaultQuoteDecimals)) <= 0 {
		t.Fatalf("trader should have received a payout")
	}
}

func TestRunnerLiquidationSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	lines := append([]string{}, seedOps...)
	lines = append(lines,
		`{"op":"open","account":"`+traderAddr+`","notional":"1000","collateral":"500"}`,
		`{"op":"liquidate","account":"`+strangerAddr+`"}`,
		`{"op":"set_price","price":"500"}`,
		`{"op":"liquidate","account":"`+strangerAddr+`"}`,
	)
	writeOps(t, path, lines...)

	env := newEnv(t)
	sink := &storage.MemoryStorage{}
	if _, err := NewRunner(runConfig(path), env, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	receipts := sink.Receipts()

	idle := receipts[7].Result.([]model.LiquidationResult)
	if len(idle) != 0 {
		t.Fatalf("healthy book should not liquidate, got %+v", idle)
	}
	swept := receipts[9].Result.([]model.LiquidationResult)
	if len(swept) != 1 || swept[0].PositionID != 1 || swept[0].ClaimID != 1 {
		t.Fatalf("unexpected sweep: %+v", swept)
	}
	if _, err := env.Engine.Claim(1); err != nil {
		t.Fatalf("claim 1 should exist: %v", err)
	}
}

func TestRunnerOracleOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	writeOps(t, path,
		`{"op":"set_time","time":"2026-01-03T00:00:00Z"}`,
		`{"op":"set_time","time":"2026-01-02T00:00:00Z"}`,
		`{"op":"set_price","price":"-1"}`,
		`{"op":"set_volatility","volatility":"65"}`,
		`{"op":"advance_epoch"}`,
	)

	env := newEnv(t)
	env.Prices = nil
	sink := &storage.MemoryStorage{}
	if _, err := NewRunner(runConfig(path), env, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	receipts := sink.Receipts()
	if !receipts[0].OK {
		t.Fatalf("forward time move should apply: %+v", receipts[0])
	}
	if receipts[1].ErrorKind != "invalid_request" {
		t.Fatalf("backward time move should be rejected: %+v", receipts[1])
	}
	if receipts[2].ErrorKind != "invalid_request" || !strings.Contains(receipts[2].Error, "external feed") {
		t.Fatalf("set_price without a settable oracle: %+v", receipts[2])
	}
	vol, _ := env.Vols.ImpliedVolatility(context.Background(), nil)
	if vol.Cmp(fixed.MustParse("65", fixed.RateDecimals)) != 0 {
		t.Fatalf("volatility = %s", vol)
	}
	if receipts[4].ErrorKind != "epoch_not_expired" {
		t.Fatalf("epoch should not advance early: %+v", receipts[4])
	}
}

type flakyExporter struct {
	calls int
	fail  int
	mark  *big.Int
}

func (f *flakyExporter) Export(_ context.Context, _ vault.State, mark *big.Int, _ time.Time) error {
	f.calls++
	f.mark = mark
	if f.calls <= f.fail {
		return errors.New("db unavailable")
	}
	return nil
}

func TestRunnerRetriesExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.jsonl")
	writeOps(t, path, seedOps[0])

	cfg := runConfig(path)
	cfg.MaxRetries = 2
	exporter := &flakyExporter{fail: 2}
	env := newEnv(t)
	if _, err := NewRunner(cfg, env, &storage.MemoryStorage{}, nil, WithExporter(exporter)).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if exporter.calls != 3 {
		t.Fatalf("expected 3 export attempts, got %d", exporter.calls)
	}
	if exporter.mark == nil || exporter.mark.Cmp(fixed.MustParse("1000", fixed.PriceDecimals)) != 0 {
		t.Fatalf("export mark = %v", exporter.mark)
	}
}

func TestRunnerValidatesConfig(t *testing.T) {
	env := newEnv(t)
	cfg := runConfig("missing.jsonl")
	cfg.BatchSize = 0
	if _, err := NewRunner(cfg, env, &storage.MemoryStorage{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected batch size error")
	}
	cfg = runConfig(filepath.Join(t.TempDir(), "missing.jsonl"))
	if _, err := NewRunner(cfg, env, &storage.MemoryStorage{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected missing input error")
	}
}
