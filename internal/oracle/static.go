package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"perpVault/internal/fixed"
)

// Static serves a settable mark price and a flat implied volatility.
type Static struct {
	mu    sync.RWMutex
	price *big.Int
	vol   *big.Int
}

func NewStatic(price, volatility *big.Int) *Static {
	return &Static{price: fixed.Clone(price), vol: fixed.Clone(volatility)}
}

// SetPrice replaces the mark price.
func (s *Static) SetPrice(price *big.Int) {
	s.mu.Lock()
	s.price = fixed.Clone(price)
	s.mu.Unlock()
}

// SetVolatility replaces the implied volatility.
func (s *Static) SetVolatility(vol *big.Int) {
	s.mu.Lock()
	s.vol = fixed.Clone(vol)
	s.mu.Unlock()
}

func (s *Static) MarkPrice(_ context.Context) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.price.Sign() <= 0 {
		return nil, fmt.Errorf("price not set")
	}
	return new(big.Int).Set(s.price), nil
}

func (s *Static) ImpliedVolatility(_ context.Context, _ *big.Int) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.vol), nil
}
