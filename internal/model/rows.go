package model

import "time"

// PoolRow is one side of the vault as stored in Postgres. Amounts are decimal strings.
type PoolRow struct {
	Name             string
	Side             string
	Epoch            uint64
	TotalDeposits    string
	ActiveDeposits   string
	TotalShares      string
	Margin           string
	Premium          string
	OpeningFees      string
	ClosingFees      string
	OpenInterest     string
	PositionUnits    string
	AverageOpenPrice string
	OpenPositions    uint64
	Utilization      *string
	FeeYield         *string
	ObservedAt       time.Time
}

// PositionRow is a position as stored in Postgres.
type PositionRow struct {
	Name             string
	PositionID       uint64
	Holder           string
	Status           string
	IsShort          bool
	PositionUnits    string
	NotionalSize     string
	AverageOpenPrice string
	Margin           string
	Premium          string
	OpeningFees      string
	ClosingFees      string
	AccruedFunding   string
	RealizedPnL      string
	OpenedAt         time.Time
	ClosedAt         *time.Time
}

// ClaimRow is a liquidation claim as stored in Postgres.
type ClaimRow struct {
	Name           string
	ClaimID        uint64
	PositionID     uint64
	Holder         string
	IsPut          bool
	NotionalAmount string
	Strike         string
	Epoch          uint64
	IsSettled      bool
}
