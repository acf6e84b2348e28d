package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"perpVault/internal/fixed"
	"perpVault/internal/vault"
)

// ErrInsufficientFunds is returned when a holder or the vault lacks a balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Memory is an in-process custody ledger used for simulations and tests.
type Memory struct {
	mu       sync.RWMutex
	balances map[vault.Asset]map[common.Address]*big.Int
	holdings map[vault.Asset]*big.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[vault.Asset]map[common.Address]*big.Int),
		holdings: make(map[vault.Asset]*big.Int),
	}
}

// Credit gives holder an external balance.
func (m *Memory) Credit(asset vault.Asset, holder common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceLocked(asset, holder).Add(m.balanceLocked(asset, holder), amount)
}

// Balance returns a holder's balance.
func (m *Memory) Balance(asset vault.Asset, holder common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byHolder, ok := m.balances[asset]; ok {
		if bal, ok := byHolder[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Holdings returns what the vault itself holds.
func (m *Memory) Holdings(asset vault.Asset) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fixed.Clone(m.holdings[asset])
}

func (m *Memory) Pull(_ context.Context, asset vault.Asset, from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(asset, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, from.Hex(), bal, asset, amount)
	}
	bal.Sub(bal, amount)
	m.holdingLocked(asset).Add(m.holdingLocked(asset), amount)
	return nil
}

func (m *Memory) Push(_ context.Context, asset vault.Asset, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.holdingLocked(asset)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault holds %s %s, needs %s", ErrInsufficientFunds, held, asset, amount)
	}
	held.Sub(held, amount)
	m.balanceLocked(asset, to).Add(m.balanceLocked(asset, to), amount)
	return nil
}

func (m *Memory) Mint(_ context.Context, asset vault.Asset, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceLocked(asset, to).Add(m.balanceLocked(asset, to), amount)
	return nil
}

func (m *Memory) Burn(_ context.Context, asset vault.Asset, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.holdingLocked(asset)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault holds %s %s, cannot burn %s", ErrInsufficientFunds, held, asset, amount)
	}
	held.Sub(held, amount)
	return nil
}

func (m *Memory) balanceLocked(asset vault.Asset, holder common.Address) *big.Int {
	byHolder, ok := m.balances[asset]
	if !ok {
		byHolder = make(map[common.Address]*big.Int)
		m.balances[asset] = byHolder
	}
	bal, ok := byHolder[holder]
	if !ok {
		bal = new(big.Int)
		byHolder[holder] = bal
	}
	return bal
}

func (m *Memory) holdingLocked(asset vault.Asset) *big.Int {
	held, ok := m.holdings[asset]
	if !ok {
		held = new(big.Int)
		m.holdings[asset] = held
	}
	return held
}

// Ledger is a serializable copy of a Memory custody.
type Ledger struct {
	Balances map[vault.Asset]map[common.Address]*big.Int `json:"balances"`
	Holdings map[vault.Asset]*big.Int                    `json:"holdings"`
}

// Snapshot copies every non-zero balance and holding.
func (m *Memory) Snapshot() Ledger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := Ledger{
		Balances: make(map[vault.Asset]map[common.Address]*big.Int, len(m.balances)),
		Holdings: make(map[vault.Asset]*big.Int, len(m.holdings)),
	}
	for asset, byHolder := range m.balances {
		for holder, bal := range byHolder {
			if bal.Sign() == 0 {
				continue
			}
			if out.Balances[asset] == nil {
				out.Balances[asset] = make(map[common.Address]*big.Int)
			}
			out.Balances[asset][holder] = new(big.Int).Set(bal)
		}
	}
	for asset, held := range m.holdings {
		if held.Sign() != 0 {
			out.Holdings[asset] = new(big.Int).Set(held)
		}
	}
	return out
}

// Restore replaces all balances with a snapshot.
func (m *Memory) Restore(l Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = make(map[vault.Asset]map[common.Address]*big.Int, len(l.Balances))
	m.holdings = make(map[vault.Asset]*big.Int, len(l.Holdings))
	for asset, byHolder := range l.Balances {
		for holder, bal := range byHolder {
			m.balanceLocked(asset, holder).Set(bal)
		}
	}
	for asset, held := range l.Holdings {
		m.holdingLocked(asset).Set(held)
	}
}
