package vault

import (
	"context"
	"fmt"
	"sort"
)

// State is a serializable copy of the whole ledger.
type State struct {
	QuotePool        *Pool                `json:"quote_pool"`
	BasePool         *Pool                `json:"base_pool"`
	Positions        []*Position          `json:"positions"`
	Withdrawals      []*PendingWithdrawal `json:"withdrawals"`
	Claims           []*LiquidationClaim  `json:"claims"`
	Epoch            EpochState           `json:"epoch"`
	NextPositionID   uint64               `json:"next_position_id"`
	NextWithdrawalID uint64               `json:"next_withdrawal_id"`
	NextClaimID      uint64               `json:"next_claim_id"`
}

// Snapshot copies the ledger. Entries are ordered by id.
func (e *Engine) Snapshot() (State, error) {
	if err := e.enter(context.Background(), "snapshot"); err != nil {
		return State{}, err
	}
	defer e.leave()

	st := State{
		QuotePool:        e.pools[SideQuote].clone(),
		BasePool:         e.pools[SideBase].clone(),
		Positions:        make([]*Position, 0, len(e.positions)),
		Withdrawals:      make([]*PendingWithdrawal, 0, len(e.withdrawals)),
		Claims:           make([]*LiquidationClaim, 0, len(e.claims)),
		Epoch:            e.epoch.clone(),
		NextPositionID:   e.nextPositionID,
		NextWithdrawalID: e.nextWithdrawalID,
		NextClaimID:      e.nextClaimID,
	}
	for _, pos := range e.positions {
		st.Positions = append(st.Positions, pos.clone())
	}
	for _, req := range e.withdrawals {
		st.Withdrawals = append(st.Withdrawals, req.clone())
	}
	for _, claim := range e.claims {
		st.Claims = append(st.Claims, claim.clone())
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].ID < st.Positions[j].ID })
	sort.Slice(st.Withdrawals, func(i, j int) bool { return st.Withdrawals[i].ID < st.Withdrawals[j].ID })
	sort.Slice(st.Claims, func(i, j int) bool { return st.Claims[i].ID < st.Claims[j].ID })
	return st, nil
}

// Restore replaces the ledger with a snapshot. Missing amounts restore as zero.
func (e *Engine) Restore(st State) error {
	if st.QuotePool == nil || st.BasePool == nil {
		return fmt.Errorf("snapshot is missing pools")
	}
	if st.Epoch.CurrentEpoch == 0 {
		return fmt.Errorf("snapshot has no epoch")
	}

	positions := make(map[uint64]*Position, len(st.Positions))
	for _, pos := range st.Positions {
		if pos == nil || pos.ID == 0 || pos.ID > st.NextPositionID {
			return fmt.Errorf("snapshot position id out of range")
		}
		positions[pos.ID] = pos.clone()
	}
	withdrawals := make(map[uint64]*PendingWithdrawal, len(st.Withdrawals))
	for _, req := range st.Withdrawals {
		if req == nil || req.ID == 0 || req.ID > st.NextWithdrawalID {
			return fmt.Errorf("snapshot withdrawal id out of range")
		}
		withdrawals[req.ID] = req.clone()
	}
	claims := make(map[uint64]*LiquidationClaim, len(st.Claims))
	for _, claim := range st.Claims {
		if claim == nil || claim.ID == 0 || claim.ID > st.NextClaimID {
			return fmt.Errorf("snapshot claim id out of range")
		}
		claims[claim.ID] = claim.clone()
	}

	if err := e.enter(context.Background(), "restore"); err != nil {
		return err
	}
	defer e.leave()
	e.pools = map[Side]*Pool{SideQuote: st.QuotePool.clone(), SideBase: st.BasePool.clone()}
	e.positions = positions
	e.withdrawals = withdrawals
	e.claims = claims
	e.epoch = st.Epoch.clone()
	e.nextPositionID = st.NextPositionID
	e.nextWithdrawalID = st.NextWithdrawalID
	e.nextClaimID = st.NextClaimID
	e.publish()
	return nil
}
