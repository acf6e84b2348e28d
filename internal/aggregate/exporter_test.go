package aggregate

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perpVault/internal/fixed"
	"perpVault/internal/model"
	"perpVault/internal/vault"
)

var (
	units   = fixed.NewUnits(fixed.DefaultQuoteDecimals, fixed.DefaultBaseDecimals)
	holder  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	openAt  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	observe = openAt.Add(365 * 24 * time.Hour)
)

type fakeStore struct {
	pools     [][]model.PoolRow
	positions [][]model.PositionRow
	claims    [][]model.ClaimRow
	failOnce  bool
}

func (f *fakeStore) UpsertPools(_ context.Context, rows []model.PoolRow) error {
	f.pools = append(f.pools, rows)
	return nil
}

func (f *fakeStore) UpsertPositions(_ context.Context, rows []model.PositionRow) error {
	if f.failOnce {
		f.failOnce = false
		return errors.New("connection reset")
	}
	f.positions = append(f.positions, rows)
	return nil
}

func (f *fakeStore) UpsertClaims(_ context.Context, rows []model.ClaimRow) error {
	f.claims = append(f.claims, rows)
	return nil
}

func pool(deposits, active, fees string, dec uint8) *vault.Pool {
	return &vault.Pool{
		TotalDeposits:    fixed.MustParse(deposits, dec),
		ActiveDeposits:   fixed.MustParse(active, dec),
		TotalShares:      fixed.MustParse(deposits, dec),
		Margin:           new(big.Int),
		Premium:          new(big.Int),
		OpeningFees:      fixed.MustParse(fees, fixed.DefaultQuoteDecimals),
		ClosingFees:      new(big.Int),
		OpenInterest:     new(big.Int),
		PositionUnits:    new(big.Int),
		AverageOpenPrice: new(big.Int),
	}
}

func position(id uint64, status vault.PositionStatus) *vault.Position {
	return &vault.Position{
		ID:               id,
		Holder:           holder,
		Status:           status,
		PositionUnits:    fixed.MustParse("1", fixed.UnitDecimals),
		NotionalSize:     fixed.MustParse("1000", fixed.DefaultQuoteDecimals),
		AverageOpenPrice: fixed.MustParse("1000", fixed.PriceDecimals),
		Margin:           fixed.MustParse("450", fixed.DefaultQuoteDecimals),
		Premium:          fixed.MustParse("50", fixed.DefaultQuoteDecimals),
		OpeningFees:      fixed.MustParse("0.5", fixed.DefaultQuoteDecimals),
		ClosingFees:      new(big.Int),
		AccruedFunding:   new(big.Int),
		RealizedPnL:      new(big.Int),
		Reserved:         new(big.Int),
		OpenedAt:         openAt,
	}
}

func state() vault.State {
	return vault.State{
		QuotePool: pool("10000", "0", "0", fixed.DefaultQuoteDecimals),
		BasePool:  pool("10", "1", "100", fixed.DefaultBaseDecimals),
		Positions: []*vault.Position{position(1, vault.StatusOpen), position(2, vault.StatusClosed)},
		Claims: []*vault.LiquidationClaim{{
			ID:             1,
			PositionID:     2,
			Holder:         holder,
			NotionalAmount: fixed.MustParse("1", fixed.UnitDecimals),
			Strike:         fixed.MustParse("1000", fixed.PriceDecimals),
			Epoch:          1,
			IsSettled:      true,
		}},
		Epoch: vault.EpochState{CurrentEpoch: 3},
	}
}

func TestPoolRows(t *testing.T) {
	mark := fixed.MustParse("1000", fixed.PriceDecimals)
	rows := PoolRows("main", state(), units, mark, observe)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	quote, base := rows[0], rows[1]
	if quote.Side != "quote" || base.Side != "base" {
		t.Fatalf("unexpected sides: %s %s", quote.Side, base.Side)
	}
	if quote.TotalDeposits != "10000.000000" || quote.Epoch != 3 {
		t.Fatalf("unexpected quote row: %+v", quote)
	}
	if quote.Utilization != nil || quote.FeeYield != nil {
		t.Fatalf("idle quote pool should have no utilization or yield")
	}
	if base.Utilization == nil || *base.Utilization != "0.100000000000000000" {
		t.Fatalf("unexpected base utilization: %v", base.Utilization)
	}
	// 100 quote of fees on 10 base at 1000 over exactly one year
	if base.FeeYield == nil || *base.FeeYield != "0.010000000000000000" {
		t.Fatalf("unexpected base fee yield: %v", base.FeeYield)
	}

	rows = PoolRows("main", state(), units, nil, observe)
	if rows[1].FeeYield != nil {
		t.Fatalf("fee yield needs a mark price for the base pool")
	}
}

func TestPositionAndClaimRows(t *testing.T) {
	st := state()
	st.Positions[1].ClosedAt = openAt.Add(time.Hour)
	rows := PositionRows("main", st.Positions, units)
	if rows[0].ClosedAt != nil || rows[0].Status != "open" {
		t.Fatalf("unexpected open row: %+v", rows[0])
	}
	if rows[1].ClosedAt == nil || rows[1].Status != "closed" {
		t.Fatalf("unexpected closed row: %+v", rows[1])
	}
	if rows[0].Holder != holder.Hex() || rows[0].NotionalSize != "1000.000000" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}

	claims := ClaimRows("main", st.Claims)
	if len(claims) != 1 || claims[0].Strike != "1000.00000000" || !claims[0].IsSettled {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestExporterSkipsTerminalRows(t *testing.T) {
	store := &fakeStore{}
	exp := NewExporter(store, "main", units, 1, nil)

	if err := exp.Export(context.Background(), state(), nil, observe); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if len(store.positions) != 2 || len(store.claims) != 1 {
		t.Fatalf("expected 2 position batches and 1 claim batch, got %d and %d", len(store.positions), len(store.claims))
	}

	if err := exp.Export(context.Background(), state(), nil, observe); err != nil {
		t.Fatalf("second export: %v", err)
	}
	if len(store.positions) != 3 || store.positions[2][0].PositionID != 1 {
		t.Fatalf("only the open position should be re-exported")
	}
	if len(store.claims) != 1 {
		t.Fatalf("settled claim should not be re-exported")
	}
	if len(store.pools) != 2 {
		t.Fatalf("pools are exported every time")
	}
}

func TestExporterRetriesAfterFailure(t *testing.T) {
	store := &fakeStore{failOnce: true}
	exp := NewExporter(store, "main", units, 10, nil)

	if err := exp.Export(context.Background(), state(), nil, observe); err == nil {
		t.Fatalf("expected failure")
	}
	if err := exp.Export(context.Background(), state(), nil, observe); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.positions) != 1 || len(store.positions[0]) != 2 {
		t.Fatalf("closed position must still be written after a failed export")
	}
}
