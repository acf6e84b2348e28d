package vault_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"perpVault/internal/custody"
	"perpVault/internal/fixed"
	"perpVault/internal/oracle"
	"perpVault/internal/vault"
)

var (
	lp        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	trader    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	keeper    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	startTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	epochLen  = 7 * 24 * time.Hour
)

// flatPricer prices every option at a fixed share of spot.
type flatPricer struct {
	rate *big.Int
}

func (p flatPricer) OptionPrice(_ bool, _ time.Time, _, spot, _ *big.Int) (*big.Int, error) {
	return fixed.ApplyRate(spot, p.rate), nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingSwap struct{}

func (failingSwap) SwapExactOut(context.Context, vault.Asset, vault.Asset, *big.Int) (*big.Int, error) {
	return nil, errors.New("router offline")
}

// blockedCustody refuses every push to one address.
type blockedCustody struct {
	*custody.Memory
	blocked common.Address
}

func (c blockedCustody) Push(ctx context.Context, asset vault.Asset, to common.Address, amount *big.Int) error {
	if to == c.blocked {
		return fmt.Errorf("transfer to %s blocked", to.Hex())
	}
	return c.Memory.Push(ctx, asset, to, amount)
}

// callbackSwap runs onSwap with the context it was handed before swapping.
type callbackSwap struct {
	vault.SwapRouter
	onSwap func(ctx context.Context) error
}

func (s *callbackSwap) SwapExactOut(ctx context.Context, from, to vault.Asset, amountOut *big.Int) (*big.Int, error) {
	if s.onSwap != nil {
		if err := s.onSwap(ctx); err != nil {
			return nil, err
		}
	}
	return s.SwapRouter.SwapExactOut(ctx, from, to, amountOut)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	engine  *vault.Engine
	custody *custody.Memory
	oracle  *oracle.Static
	clock   *manualClock
}

type harnessOption func(*vault.Deps)

func withSwap(s vault.SwapRouter) harnessOption {
	return func(d *vault.Deps) { d.Swap = s }
}

func withBlockedPush(to common.Address) harnessOption {
	return func(d *vault.Deps) {
		d.Custody = blockedCustody{Memory: d.Custody.(*custody.Memory), blocked: to}
	}
}

// withCallbackSwap wraps the default router so a test can call back in.
func withCallbackSwap(s *callbackSwap) harnessOption {
	return func(d *vault.Deps) {
		s.SwapRouter = d.Swap
		d.Swap = s
	}
}

// newHarness funds an LP with 10,000 quote and 10 base, deposits both, and
// gives the trader 10,000 quote. The mark price starts at 1000.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	params := vault.DefaultParams()
	units := fixed.NewUnits(params.QuoteDecimals, params.BaseDecimals)
	mem := custody.NewMemory()
	static := oracle.NewStatic(price("1000"), fixed.MustParse("80", fixed.RateDecimals))
	deps := vault.Deps{
		Price:      static,
		Volatility: static,
		Pricer:     flatPricer{rate: fixed.MustParse("5", fixed.RateDecimals)},
		Swap:       custody.NewSwapper(mem, static, units, new(big.Int)),
		Custody:    mem,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	clock := &manualClock{now: startTime}
	engine, err := vault.New(params, deps, startTime.Add(epochLen), vault.WithClock(clock.Now))
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), engine: engine, custody: mem, oracle: static, clock: clock}
	mem.Credit(vault.AssetQuote, lp, quote("10000"))
	mem.Credit(vault.AssetBase, lp, base("10"))
	mem.Credit(vault.AssetQuote, trader, quote("10000"))
	_, err = engine.Deposit(h.ctx, vault.SideQuote, quote("10000"), lp)
	require.NoError(t, err)
	_, err = engine.Deposit(h.ctx, vault.SideBase, base("10"), lp)
	require.NoError(t, err)
	return h
}

func (h *harness) setPrice(v string) {
	h.oracle.SetPrice(price(v))
}

func (h *harness) open(isShort bool, notional, collateral string) uint64 {
	h.t.Helper()
	receipt, err := h.engine.Open(h.ctx, trader, isShort, quote(notional), quote(collateral))
	require.NoError(h.t, err)
	return receipt.PositionID
}

func (h *harness) requireInvariants() {
	h.t.Helper()
	for _, side := range []vault.Side{vault.SideQuote, vault.SideBase} {
		pool := h.engine.Pool(side)
		require.LessOrEqual(h.t, pool.ActiveDeposits.Cmp(pool.TotalDeposits), 0, "%s active > total", side)
		require.GreaterOrEqual(h.t, pool.TotalDeposits.Sign(), 0, "%s total negative", side)
		require.GreaterOrEqual(h.t, pool.PositionUnits.Sign(), 0, "%s units negative", side)
		require.GreaterOrEqual(h.t, pool.OpenInterest.Sign(), 0, "%s open interest negative", side)
	}
}

// requireSolvent checks that the vault holds at least what each pool's books claim.
func (h *harness) requireSolvent() {
	h.t.Helper()
	for _, side := range []vault.Side{vault.SideQuote, vault.SideBase} {
		pool := h.engine.Pool(side)
		held := h.custody.Holdings(vault.AssetOf(side))
		require.GreaterOrEqual(h.t, held.Cmp(pool.TotalDeposits), 0,
			"%s pool books %s, vault holds %s", side, pool.TotalDeposits, held)
	}
}

// custodyText renders every balance and holding for before/after comparisons.
func (h *harness) custodyText() string {
	return fmt.Sprintf("%v", h.custody.Snapshot())
}

func quote(v string) *big.Int { return fixed.MustParse(v, fixed.DefaultQuoteDecimals) }
func base(v string) *big.Int  { return fixed.MustParse(v, fixed.DefaultBaseDecimals) }
func price(v string) *big.Int { return fixed.MustParse(v, fixed.PriceDecimals) }

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Zero(t, want.Cmp(got), "want %s, got %s", want, got)
}

func poolText(p vault.Pool) string {
	return fmt.Sprintf("%+v", p)
}
