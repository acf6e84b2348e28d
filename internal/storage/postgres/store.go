package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"perpVault/internal/model"
)

// Store provides Postgres persistence for vault state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates the latest pool aggregates per side.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolRow) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO vault_pools (
				name, side, epoch, total_deposits, active_deposits, total_shares, margin, premium,
				opening_fees, closing_fees, open_interest, position_units, average_open_price,
				open_positions, utilization, fee_yield, observed_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
			ON CONFLICT (name, side)
			DO UPDATE SET
				epoch = EXCLUDED.epoch,
				total_deposits = EXCLUDED.total_deposits,
				active_deposits = EXCLUDED.active_deposits,
				total_shares = EXCLUDED.total_shares,
				margin = EXCLUDED.margin,
				premium = EXCLUDED.premium,
				opening_fees = EXCLUDED.opening_fees,
				closing_fees = EXCLUDED.closing_fees,
				open_interest = EXCLUDED.open_interest,
				position_units = EXCLUDED.position_units,
				average_open_price = EXCLUDED.average_open_price,
				open_positions = EXCLUDED.open_positions,
				utilization = EXCLUDED.utilization,
				fee_yield = EXCLUDED.fee_yield,
				observed_at = EXCLUDED.observed_at,
				updated_at = now()
		`,
			p.Name,
			p.Side,
			int64(p.Epoch),
			p.TotalDeposits,
			p.ActiveDeposits,
			p.TotalShares,
			p.Margin,
			p.Premium,
			p.OpeningFees,
			p.ClosingFees,
			p.OpenInterest,
			p.PositionUnits,
			p.AverageOpenPrice,
			int64(p.OpenPositions),
			p.Utilization,
			p.FeeYield,
			p.ObservedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

// UpsertPositions inserts or updates positions by id.
func (s *Store) UpsertPositions(ctx context.Context, positions []model.PositionRow) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO vault_positions (
				name, position_id, holder, status, is_short, position_units, notional_size,
				average_open_price, margin, premium, opening_fees, closing_fees, accrued_funding,
				realized_pnl, opened_at, closed_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
			ON CONFLICT (name, position_id)
			DO UPDATE SET
				status = EXCLUDED.status,
				margin = EXCLUDED.margin,
				closing_fees = EXCLUDED.closing_fees,
				accrued_funding = EXCLUDED.accrued_funding,
				realized_pnl = EXCLUDED.realized_pnl,
				closed_at = EXCLUDED.closed_at,
				updated_at = now()
		`,
			p.Name,
			int64(p.PositionID),
			p.Holder,
			p.Status,
			p.IsShort,
			p.PositionUnits,
			p.NotionalSize,
			p.AverageOpenPrice,
			p.Margin,
			p.Premium,
			p.OpeningFees,
			p.ClosingFees,
			p.AccruedFunding,
			p.RealizedPnL,
			p.OpenedAt,
			p.ClosedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(positions))
}

// UpsertClaims inserts or updates liquidation claims by id.
func (s *Store) UpsertClaims(ctx context.Context, claims []model.ClaimRow) error {
	if len(claims) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range claims {
		batch.Queue(`
			INSERT INTO vault_claims (
				name, claim_id, position_id, holder, is_put, notional_amount, strike, epoch, is_settled, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
			ON CONFLICT (name, claim_id)
			DO UPDATE SET
				is_settled = EXCLUDED.is_settled,
				updated_at = now()
		`,
			c.Name,
			int64(c.ClaimID),
			int64(c.PositionID),
			c.Holder,
			c.IsPut,
			c.NotionalAmount,
			c.Strike,
			int64(c.Epoch),
			c.IsSettled,
		)
	}
	return s.sendBatch(ctx, batch, len(claims))
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot returns the stored checkpoint document for a name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("snapshot name required")
	}
	var doc []byte
	row := s.pool.QueryRow(ctx, `SELECT document FROM vault_snapshots WHERE name=$1`, name)
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

// SaveSnapshot upserts the checkpoint document for a name.
func (s *Store) SaveSnapshot(ctx context.Context, name string, doc []byte) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_snapshots (name, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET document = EXCLUDED.document, updated_at = now()
	`, name, doc)
	return err
}
