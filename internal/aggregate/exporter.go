package aggregate

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"perpVault/internal/fixed"
	"perpVault/internal/model"
	"perpVault/internal/vault"
)

// Store is the write side of the Postgres store used by the exporter.
type Store interface {
	UpsertPools(ctx context.Context, pools []model.PoolRow) error
	UpsertPositions(ctx context.Context, positions []model.PositionRow) error
	UpsertClaims(ctx context.Context, claims []model.ClaimRow) error
}

// Exporter writes vault snapshots as pool, position and claim rows.
type Exporter struct {
	store     Store
	name      string
	units     fixed.Units
	batchSize int
	logger    *zap.Logger

	// ids already exported in a terminal state
	finalPositions map[uint64]struct{}
	finalClaims    map[uint64]struct{}
}

func NewExporter(store Store, name string, units fixed.Units, batchSize int, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Exporter{
		store:          store,
		name:           name,
		units:          units,
		batchSize:      batchSize,
		logger:         logger,
		finalPositions: make(map[uint64]struct{}),
		finalClaims:    make(map[uint64]struct{}),
	}
}

// Export upserts the snapshot. Positions and claims that reached a terminal
// state are written once.
func (e *Exporter) Export(ctx context.Context, st vault.State, mark *big.Int, at time.Time) error {
	if e.store == nil {
		return fmt.Errorf("store is nil")
	}

	if err := e.store.UpsertPools(ctx, PoolRows(e.name, st, e.units, mark, at)); err != nil {
		return fmt.Errorf("upsert pools: %w", err)
	}

	positions := make([]*vault.Position, 0, len(st.Positions))
	for _, pos := range st.Positions {
		if _, done := e.finalPositions[pos.ID]; !done {
			positions = append(positions, pos)
		}
	}
	posRows := PositionRows(e.name, positions, e.units)
	for start := 0; start < len(posRows); start += e.batchSize {
		end := min(start+e.batchSize, len(posRows))
		if err := e.store.UpsertPositions(ctx, posRows[start:end]); err != nil {
			return fmt.Errorf("upsert positions: %w", err)
		}
	}

	claims := make([]*vault.LiquidationClaim, 0, len(st.Claims))
	for _, c := range st.Claims {
		if _, done := e.finalClaims[c.ID]; !done {
			claims = append(claims, c)
		}
	}
	claimRows := ClaimRows(e.name, claims)
	for start := 0; start < len(claimRows); start += e.batchSize {
		end := min(start+e.batchSize, len(claimRows))
		if err := e.store.UpsertClaims(ctx, claimRows[start:end]); err != nil {
			return fmt.Errorf("upsert claims: %w", err)
		}
	}

	// mark terminal rows only after every write succeeded
	for _, pos := range positions {
		if !pos.IsOpen() {
			e.finalPositions[pos.ID] = struct{}{}
		}
	}
	for _, c := range claims {
		if c.IsSettled {
			e.finalClaims[c.ID] = struct{}{}
		}
	}

	e.logger.Debug("export complete",
		zap.Int("positions", len(posRows)),
		zap.Int("claims", len(claimRows)),
		zap.Time("observed_at", at),
	)
	return nil
}
