package pricing

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpVault/internal/fixed"
)

func TestAtTheMoneyCallAndPutMatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bs := NewBlackScholes(func() time.Time { return now })
	spot := fixed.MustParse("2000", fixed.PriceDecimals)
	vol := fixed.MustParse("80", fixed.RateDecimals)
	expiry := now.Add(7 * 24 * time.Hour)

	call, err := bs.OptionPrice(false, expiry, spot, spot, vol)
	require.NoError(t, err)
	put, err := bs.OptionPrice(true, expiry, spot, spot, vol)
	require.NoError(t, err)

	// ATM with zero rates: call == put ~= 0.4 * S * sigma * sqrt(T)
	diff := new(big.Int).Sub(call, put)
	assert.LessOrEqual(t, diff.CmpAbs(big.NewInt(10)), 0)
	low := fixed.MustParse("85", fixed.PriceDecimals)
	high := fixed.MustParse("92", fixed.PriceDecimals)
	assert.True(t, call.Cmp(low) > 0 && call.Cmp(high) < 0, "call %s", call)
}

func TestPutCallParity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bs := NewBlackScholes(func() time.Time { return now })
	spot := fixed.MustParse("2000", fixed.PriceDecimals)
	strike := fixed.MustParse("1800", fixed.PriceDecimals)
	vol := fixed.MustParse("60", fixed.RateDecimals)
	expiry := now.Add(30 * 24 * time.Hour)

	call, err := bs.OptionPrice(false, expiry, strike, spot, vol)
	require.NoError(t, err)
	put, err := bs.OptionPrice(true, expiry, strike, spot, vol)
	require.NoError(t, err)

	// C - P == S - K
	lhs := new(big.Int).Sub(call, put)
	rhs := new(big.Int).Sub(spot, strike)
	tolerance := fixed.MustParse("0.0001", fixed.PriceDecimals)
	assert.LessOrEqual(t, lhs.Sub(lhs, rhs).CmpAbs(tolerance), 0)
}

func TestExpiredOptionIsIntrinsic(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bs := &BlackScholes{Now: func() time.Time { return now }}
	spot := fixed.MustParse("2000", fixed.PriceDecimals)
	strike := fixed.MustParse("1500", fixed.PriceDecimals)
	vol := fixed.MustParse("80", fixed.RateDecimals)

	call, err := bs.OptionPrice(false, now.Add(-time.Hour), strike, spot, vol)
	require.NoError(t, err)
	assert.Zero(t, call.Cmp(fixed.MustParse("500", fixed.PriceDecimals)))

	put, err := bs.OptionPrice(true, now.Add(-time.Hour), strike, spot, vol)
	require.NoError(t, err)
	assert.Zero(t, put.Sign())
}

func TestRejectsBadInputs(t *testing.T) {
	bs := NewBlackScholes(nil)
	_, err := bs.OptionPrice(false, time.Now(), big.NewInt(0), big.NewInt(1), big.NewInt(1))
	assert.Error(t, err)
	_, err = bs.OptionPrice(false, time.Now(), big.NewInt(1), big.NewInt(1), big.NewInt(-1))
	assert.Error(t, err)
}
