package vault_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpVault/internal/vault"
)

func TestAdvanceEpoch(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.AdvanceEpoch(h.ctx, startTime.Add(2*epochLen))
	require.ErrorIs(t, err, vault.ErrEpochNotExpired)

	// the expiry instant itself still belongs to the epoch
	h.clock.Advance(epochLen)
	_, err = h.engine.AdvanceEpoch(h.ctx, startTime.Add(2*epochLen))
	require.ErrorIs(t, err, vault.ErrEpochNotExpired)
	require.Equal(t, uint64(1), h.engine.Epoch().CurrentEpoch)

	h.clock.Advance(time.Second)
	_, err = h.engine.AdvanceEpoch(h.ctx, startTime.Add(epochLen))
	require.ErrorIs(t, err, vault.ErrInvalidRequest)

	h.setPrice("1234.5")
	closed, err := h.engine.AdvanceEpoch(h.ctx, startTime.Add(2*epochLen))
	require.NoError(t, err)
	require.Equal(t, uint64(1), closed)

	epoch := h.engine.Epoch()
	require.Equal(t, uint64(2), epoch.CurrentEpoch)
	require.True(t, epoch.CurrentExpiry.Equal(startTime.Add(2*epochLen)))
	requireBig(t, price("1234.5"), epoch.ExpiryPrices[1])
}

func liquidateAt(t *testing.T, h *harness, isShort bool, crash string) uint64 {
	t.Helper()
	id := h.open(isShort, "1000", "500")
	h.setPrice(crash)
	receipt, err := h.engine.Liquidate(h.ctx, id, keeper)
	require.NoError(t, err)
	return receipt.ClaimID
}

func closeEpochAt(t *testing.T, h *harness, expiry string) {
	t.Helper()
	h.clock.Advance(epochLen + time.Second)
	h.setPrice(expiry)
	_, err := h.engine.AdvanceEpoch(h.ctx, startTime.Add(2*epochLen))
	require.NoError(t, err)
}

func TestSettleCallClaim(t *testing.T) {
	h := newHarness(t)
	claimID := liquidateAt(t, h, false, "500")

	_, err := h.engine.Settle(h.ctx, claimID, trader)
	require.ErrorIs(t, err, vault.ErrTooEarly)

	closeEpochAt(t, h, "1200")

	_, err = h.engine.Settle(h.ctx, claimID, stranger)
	require.ErrorIs(t, err, vault.ErrNotAuthorized)

	receipt, err := h.engine.Settle(h.ctx, claimID, trader)
	require.NoError(t, err)
	require.Equal(t, vault.SideBase, receipt.Side)
	requireBig(t, quote("200"), receipt.PayoffQuote)
	// 200 quote paid in base at the expiry price
	requireBig(t, base("0.166666666666666666"), receipt.Paid)
	requireBig(t, receipt.Paid, h.custody.Balance(vault.AssetBase, trader))
	requireBig(t, base("10.823333333333333334"), h.engine.Pool(vault.SideBase).TotalDeposits)

	claim, err := h.engine.Claim(claimID)
	require.NoError(t, err)
	require.True(t, claim.IsSettled)

	_, err = h.engine.Settle(h.ctx, claimID, trader)
	require.ErrorIs(t, err, vault.ErrInvalidRequest)
	h.requireInvariants()
	h.requireSolvent()
}

func TestSettlePutClaim(t *testing.T) {
	h := newHarness(t)
	claimID := liquidateAt(t, h, true, "1500")

	claim, err := h.engine.Claim(claimID)
	require.NoError(t, err)
	require.True(t, claim.IsPut)
	requireBig(t, price("1000"), claim.Strike)

	closeEpochAt(t, h, "800")

	receipt, err := h.engine.Settle(h.ctx, claimID, trader)
	require.NoError(t, err)
	require.Equal(t, vault.SideQuote, receipt.Side)
	requireBig(t, quote("200"), receipt.Paid)
	// 10,000 deposits plus 495 of seized margin, less the payoff
	requireBig(t, quote("10295"), h.engine.Pool(vault.SideQuote).TotalDeposits)
}

func TestSettleWithoutPayoffIsRejected(t *testing.T) {
	h := newHarness(t)
	claimID := liquidateAt(t, h, true, "1500")
	closeEpochAt(t, h, "1200")

	_, err := h.engine.Settle(h.ctx, claimID, trader)
	require.ErrorIs(t, err, vault.ErrInvalidRequest)

	claim, err := h.engine.Claim(claimID)
	require.NoError(t, err)
	require.False(t, claim.IsSettled)

	_, err = h.engine.Settle(h.ctx, 99, trader)
	require.ErrorIs(t, err, vault.ErrInvalidRequest)
}
