package vault

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLockWait bounds how long a call waits for another one to finish.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockWait = d
		}
	}
}

// WithClock overrides the wall clock used for funding accrual and epoch expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the single-writer ledger of pools, positions, withdrawals and claims.
// Mutating methods either apply completely or leave state unchanged, including
// the custody effects they ran. Calls are serialized; a collaborator calling
// back into the engine with the context it was handed fails with ErrReentrant.
// Pool, Epoch and FundingRate read the last committed state without waiting.
type Engine struct {
	lock     chan struct{}
	lockWait time.Duration
	view     atomic.Pointer[ledgerView]

	params Params
	units  fixed.Units
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	pools       map[Side]*Pool
	positions   map[uint64]*Position
	withdrawals map[uint64]*PendingWithdrawal
	claims      map[uint64]*LiquidationClaim
	epoch       EpochState

	nextPositionID   uint64
	nextWithdrawalID uint64
	nextClaimID      uint64

	tx *txn
}

// New builds an Engine starting at epoch 1 with the given expiry.
func New(params Params, deps Deps, initialExpiry time.Time, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deps.Price == nil || deps.Volatility == nil || deps.Pricer == nil || deps.Swap == nil || deps.Custody == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}

	e := &Engine{
		lock:        make(chan struct{}, 1),
		lockWait:    10 * time.Second,
		params:      params,
		units:       fixed.NewUnits(params.QuoteDecimals, params.BaseDecimals),
		deps:        deps,
		logger:      zap.NewNop(),
		now:         time.Now,
		pools:       map[Side]*Pool{SideQuote: newPool(), SideBase: newPool()},
		positions:   make(map[uint64]*Position),
		withdrawals: make(map[uint64]*PendingWithdrawal),
		claims:      make(map[uint64]*LiquidationClaim),
		epoch: EpochState{
			CurrentEpoch:  1,
			CurrentExpiry: initialExpiry.UTC(),
			ExpiryPrices:  make(map[uint64]*big.Int),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish()
	return e, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Units returns the unit converter for the configured assets.
func (e *Engine) Units() fixed.Units {
	return e.units
}

type effectPhase int

const (
	phasePull effectPhase = iota
	phaseSwap
	phaseIssue
	phasePush
)

type effect struct {
	phase effectPhase
	name  string
	run   func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

// ledgerView is the committed copy of the pools and epoch served to readers.
type ledgerView struct {
	pools map[Side]*Pool
	epoch EpochState
}

func (e *Engine) publish() {
	e.view.Store(&ledgerView{
		pools: map[Side]*Pool{
			SideQuote: e.pools[SideQuote].clone(),
			SideBase:  e.pools[SideBase].clone(),
		},
		epoch: e.epoch.clone(),
	})
}

// txn journals the state touched by one operation so it can be restored.
type txn struct {
	pools       map[Side]*Pool
	epoch       EpochState
	nextIDs     [3]uint64
	positions   map[uint64]*Position
	withdrawals map[uint64]*PendingWithdrawal
	claims      map[uint64]*LiquidationClaim
	effects     []effect
}

func (e *Engine) begin() {
	e.tx = &txn{
		pools: map[Side]*Pool{
			SideQuote: e.pools[SideQuote].clone(),
			SideBase:  e.pools[SideBase].clone(),
		},
		epoch:       e.epoch.clone(),
		nextIDs:     [3]uint64{e.nextPositionID, e.nextWithdrawalID, e.nextClaimID},
		positions:   make(map[uint64]*Position),
		withdrawals: make(map[uint64]*PendingWithdrawal),
		claims:      make(map[uint64]*LiquidationClaim),
	}
}

func (e *Engine) rollback() {
	tx := e.tx
	e.tx = nil
	if tx == nil {
		return
	}
	e.pools = tx.pools
	e.epoch = tx.epoch
	e.nextPositionID, e.nextWithdrawalID, e.nextClaimID = tx.nextIDs[0], tx.nextIDs[1], tx.nextIDs[2]
	for id, prev := range tx.positions {
		if prev == nil {
			delete(e.positions, id)
		} else {
			e.positions[id] = prev
		}
	}
	for id, prev := range tx.withdrawals {
		if prev == nil {
			delete(e.withdrawals, id)
		} else {
			e.withdrawals[id] = prev
		}
	}
	for id, prev := range tx.claims {
		if prev == nil {
			delete(e.claims, id)
		} else {
			e.claims[id] = prev
		}
	}
}

// commit runs the queued external effects in phase order. When one fails, the
// effects that already ran are reversed before the error is returned.
func (e *Engine) commit(ctx context.Context) error {
	tx := e.tx
	sort.SliceStable(tx.effects, func(i, j int) bool {
		return tx.effects[i].phase < tx.effects[j].phase
	})
	ctx = e.outbound(ctx)
	for i, eff := range tx.effects {
		if err := eff.run(ctx); err != nil {
			e.unwind(ctx, tx.effects[:i])
			return err
		}
	}
	e.tx = nil
	return nil
}

// unwind reverses executed effects, newest first.
func (e *Engine) unwind(ctx context.Context, done []effect) {
	ctx = context.WithoutCancel(e.outbound(ctx))
	for i := len(done) - 1; i >= 0; i-- {
		eff := done[i]
		if eff.undo == nil {
			continue
		}
		if err := eff.undo(ctx); err != nil {
			e.logger.Error("failed to reverse external effect",
				zap.String("effect", eff.name),
				zap.Error(err),
			)
		}
	}
}

type engineKey struct{}

// outbound tags a context handed to collaborators.
func (e *Engine) outbound(ctx context.Context) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}

// enter takes the engine lock. A call carrying a context this engine handed to
// a collaborator fails with ErrReentrant. Any other call waits until ctx is
// done or the lock wait elapses, then fails with ErrBusy.
func (e *Engine) enter(ctx context.Context, op string) error {
	if owner, _ := ctx.Value(engineKey{}).(*Engine); owner == e {
		return fmt.Errorf("%w: %s", ErrReentrant, op)
	}
	select {
	case e.lock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(e.lockWait)
	defer timer.Stop()
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrBusy, op, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s waited %s", ErrBusy, op, e.lockWait)
	}
}

func (e *Engine) leave() {
	<-e.lock
}

// atomically runs fn under the engine lock inside a transaction.
func (e *Engine) atomically(ctx context.Context, op string, fn func() error) error {
	if err := e.enter(ctx, op); err != nil {
		return err
	}
	defer e.leave()

	e.begin()
	if err := fn(); err != nil {
		e.rollback()
		e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	if err := e.checkInvariants(); err != nil {
		e.rollback()
		e.logger.Warn("operation broke pool invariant", zap.String("op", op), zap.Error(err))
		return err
	}
	if err := e.commit(ctx); err != nil {
		e.rollback()
		e.logger.Warn("external effect failed", zap.String("op", op), zap.Error(err))
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) checkInvariants() error {
	for _, side := range []Side{SideQuote, SideBase} {
		pool := e.pools[side]
		if pool.ActiveDeposits.Cmp(pool.TotalDeposits) > 0 {
			return fmt.Errorf("%w: %s pool active deposits exceed total deposits", ErrInsufficientLiquidity, side)
		}
		if pool.TotalDeposits.Sign() < 0 {
			return fmt.Errorf("%w: %s pool deposits negative", ErrInsufficientLiquidity, side)
		}
	}
	return nil
}

func (e *Engine) putPosition(pos *Position) {
	if e.tx != nil {
		if _, seen := e.tx.positions[pos.ID]; !seen {
			e.tx.positions[pos.ID] = e.positions[pos.ID]
		}
	}
	e.positions[pos.ID] = pos
}

func (e *Engine) putWithdrawal(id uint64, req *PendingWithdrawal) {
	if e.tx != nil {
		if _, seen := e.tx.withdrawals[id]; !seen {
			e.tx.withdrawals[id] = e.withdrawals[id]
		}
	}
	if req == nil {
		delete(e.withdrawals, id)
		return
	}
	e.withdrawals[id] = req
}

func (e *Engine) putClaim(claim *LiquidationClaim) {
	if e.tx != nil {
		if _, seen := e.tx.claims[claim.ID]; !seen {
			e.tx.claims[claim.ID] = e.claims[claim.ID]
		}
	}
	e.claims[claim.ID] = claim
}

func (e *Engine) queue(phase effectPhase, name string, run, undo func(ctx context.Context) error) {
	e.tx.effects = append(e.tx.effects, effect{phase: phase, name: name, run: run, undo: undo})
}

func (e *Engine) queuePull(asset Asset, from common.Address, amount *big.Int) {
	amt := fixed.Clone(amount)
	e.queue(phasePull, "pull "+string(asset),
		func(ctx context.Context) error {
			if err := e.deps.Custody.Pull(ctx, asset, from, amt); err != nil {
				return fmt.Errorf("%w: pull %s from %s: %w", ErrInsufficientBalance, asset, from.Hex(), err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return e.deps.Custody.Push(ctx, asset, from, amt)
		},
	)
}

func (e *Engine) queuePush(asset Asset, to common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	amt := fixed.Clone(amount)
	e.queue(phasePush, "push "+string(asset),
		func(ctx context.Context) error {
			if err := e.deps.Custody.Push(ctx, asset, to, amt); err != nil {
				return fmt.Errorf("push %s to %s: %w", asset, to.Hex(), err)
			}
			return nil
		},
		func(ctx context.Context) error {
			return e.deps.Custody.Pull(ctx, asset, to, amt)
		},
	)
}

func (e *Engine) queueMint(asset Asset, to common.Address, amount *big.Int) {
	amt := fixed.Clone(amount)
	e.queue(phaseIssue, "mint "+string(asset),
		func(ctx context.Context) error {
			if err := e.deps.Custody.Mint(ctx, asset, to, amt); err != nil {
				return fmt.Errorf("mint %s: %w", asset, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			if err := e.deps.Custody.Pull(ctx, asset, to, amt); err != nil {
				return err
			}
			return e.deps.Custody.Burn(ctx, asset, amt)
		},
	)
}

// queueBurn destroys receipts escrowed by the vault on behalf of owner.
func (e *Engine) queueBurn(asset Asset, owner common.Address, amount *big.Int) {
	amt := fixed.Clone(amount)
	e.queue(phaseIssue, "burn "+string(asset),
		func(ctx context.Context) error {
			if err := e.deps.Custody.Burn(ctx, asset, amt); err != nil {
				return fmt.Errorf("burn %s: %w", asset, err)
			}
			return nil
		},
		func(ctx context.Context) error {
			if err := e.deps.Custody.Mint(ctx, asset, owner, amt); err != nil {
				return err
			}
			return e.deps.Custody.Pull(ctx, asset, owner, amt)
		},
	)
}

// queueSwap buys exactly amountOut of to with the vault's from holdings. The
// amount spent is written to spent and handed to settle once the swap has run.
func (e *Engine) queueSwap(from, to Asset, amountOut, spent *big.Int, settle func(in *big.Int)) {
	if amountOut.Sign() <= 0 {
		return
	}
	amt := fixed.Clone(amountOut)
	var in *big.Int
	e.queue(phaseSwap, "swap "+string(from)+" to "+string(to),
		func(ctx context.Context) error {
			var err error
			in, err = e.deps.Swap.SwapExactOut(ctx, from, to, amt)
			if err != nil {
				return fmt.Errorf("swap %s to %s: %w", from, to, err)
			}
			if in == nil {
				in = new(big.Int)
			}
			if spent != nil {
				spent.Set(in)
			}
			if settle != nil {
				settle(in)
			}
			return nil
		},
		func(ctx context.Context) error {
			if in == nil || in.Sign() == 0 {
				return nil
			}
			_, err := e.deps.Swap.SwapExactOut(ctx, to, from, in)
			return err
		},
	)
}

func (e *Engine) markPrice(ctx context.Context) (*big.Int, error) {
	price, err := e.deps.Price.MarkPrice(e.outbound(ctx))
	if err != nil {
		return nil, fmt.Errorf("mark price: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("mark price: invalid value %v", price)
	}
	return price, nil
}

// toPoolUnits converts a quote amount into the asset held by side.
func (e *Engine) toPoolUnits(side Side, quote, price *big.Int) *big.Int {
	if side == SideBase {
		return e.units.QuoteToBase(quote, price)
	}
	return new(big.Int).Set(quote)
}

func (e *Engine) lookupPosition(id uint64) (*Position, error) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown position %d", ErrInvalidRequest, id)
	}
	return pos, nil
}

func (e *Engine) openPosition(id uint64) (*Position, error) {
	pos, err := e.lookupPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: position %d is %s", ErrPositionNotOpen, id, pos.Status)
	}
	return pos, nil
}
