package stakepool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stakepool/core/events"
	"stakepool/crypto"
	"stakepool/native/common"
)

var (
	errNilState        = errors.New("stakepool engine: state not configured")
	errEmptyNamespace  = errors.New("stakepool engine: namespace required")
	errZeroInitializer = errors.New("stakepool engine: initializer required")
)

// Ledger moves funds between accounts and supplies the current time. A
// Transfer either moves the full amount or nothing.
type Ledger interface {
	Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error
	Balance(ctx context.Context, account crypto.Address) (uint64, error)
	Now() time.Time
}

// Config captures the parameters fixed for a deployment. Rate takes
// precedence, then DistributionHorizon, then RewardPeriod.
type Config struct {
	Namespace           string
	Initializer         crypto.Address
	PremiumThreshold    uint64
	Rate                Rate
	RewardPeriod        time.Duration
	DistributionHorizon time.Duration
	ExpectedStake       uint64
	StrictBudget        bool
	MaxLockPeriod       time.Duration
}

// Engine applies staking operations to an explicitly passed State. It keeps
// no pool state of its own; callers serialize access to the State.
type Engine struct {
	cfg     Config
	pool    crypto.Address
	custody crypto.Address
	ledger  Ledger
	emitter events.Emitter
	pauses  common.PauseView
}

// NewEngine validates cfg and returns an engine with no ledger configured.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.Namespace = strings.TrimSpace(cfg.Namespace)
	if cfg.Namespace == "" {
		return nil, errEmptyNamespace
	}
	if cfg.Initializer.IsZero() {
		return nil, errZeroInitializer
	}
	if cfg.PremiumThreshold == 0 {
		cfg.PremiumThreshold = DefaultPremiumThreshold
	}
	if cfg.MaxLockPeriod < 0 {
		return nil, fmt.Errorf("stakepool engine: negative max lock period")
	}
	return &Engine{
		cfg:     cfg,
		pool:    PoolAddress(cfg.Namespace),
		custody: CustodyAddress(cfg.Namespace),
		emitter: events.NoopEmitter{},
	}, nil
}

// SetLedger configures the ledger accessor used to move funds.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the pause view consulted before every mutation.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// Config returns the normalized configuration.
func (e *Engine) Config() Config { return e.cfg }

// PoolAddress returns the pool identity authorizations are bound to.
func (e *Engine) PoolAddress() crypto.Address { return e.pool }

// CustodyAddress returns the ledger account holding principal and rewards.
func (e *Engine) CustodyAddress() crypto.Address { return e.custody }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) guard(op string, account crypto.Address) error {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		e.emit(events.StakePaused{Account: account, Operation: op, Reason: "module paused"})
		return &OpError{Op: op, Staker: account, State: "paused", Kind: ErrPaused, Cause: err}
	}
	return nil
}

func (e *Engine) precheck(op string, st *State, account crypto.Address) error {
	if e.ledger == nil {
		return &OpError{Op: op, Staker: account, Kind: ErrLedgerNotConfigured}
	}
	if st == nil {
		return errNilState
	}
	if st.Stakers == nil {
		st.Stakers = make(map[crypto.Address]*StakerAccount)
	}
	return e.guard(op, account)
}

func (e *Engine) resolveRate(budget uint64) (Rate, error) {
	switch {
	case e.cfg.Rate.Valid():
		return e.cfg.Rate, nil
	case e.cfg.DistributionHorizon > 0:
		return RateForHorizon(budget, e.cfg.ExpectedStake, e.cfg.DistributionHorizon)
	case e.cfg.RewardPeriod > 0:
		return RateForPeriod(e.cfg.RewardPeriod)
	default:
		return RateForPeriod(DefaultRewardPeriod)
	}
}

// InitializePool creates the reward pool and escrows budget from the
// initializer into custody.
func (e *Engine) InitializePool(ctx context.Context, st *State, auth Authorization, budget uint64) (*InitializeResult, error) {
	const op = OpInitialize
	initializer := e.cfg.Initializer
	if err := e.precheck(op, st, initializer); err != nil {
		return nil, err
	}
	if st.Pool != nil {
		return nil, &OpError{Op: op, Staker: initializer, Amount: budget, State: st.poolStatus(), Kind: ErrAlreadyInitialized}
	}
	if err := verify(auth, e.pool, op, initializer, 0, budget); err != nil {
		return nil, &OpError{Op: op, Staker: auth.Signer, Amount: budget, State: st.poolStatus(), Kind: ErrUnauthorized, Cause: err}
	}
	rate, err := e.resolveRate(budget)
	if err != nil {
		return nil, &OpError{Op: op, Staker: initializer, Amount: budget, State: st.poolStatus(), Kind: KindOf(err), Cause: err}
	}

	if budget > 0 {
		balance, err := e.ledger.Balance(ctx, initializer)
		if err != nil {
			return nil, &OpError{Op: op, Staker: initializer, Amount: budget, State: st.poolStatus(), Kind: ErrTransferFailed, Cause: err}
		}
		if balance < budget {
			return nil, &OpError{Op: op, Staker: initializer, Amount: budget, State: st.poolStatus(), Kind: ErrInsufficientBalance}
		}
		if err := e.ledger.Transfer(ctx, initializer, e.custody, budget); err != nil {
			return nil, &OpError{Op: op, Staker: initializer, Amount: budget, State: st.poolStatus(), Kind: ErrTransferFailed, Cause: err}
		}
	}

	now := e.ledger.Now()
	st.Pool = &Pool{
		ID:                e.pool,
		Custody:           e.custody,
		Initializer:       initializer,
		TotalRewardBudget: budget,
		Rate:              rate,
		InitializedAt:     now,
	}
	e.emit(events.PoolInitialized{
		Pool:        e.pool,
		Custody:     e.custody,
		Initializer: initializer,
		Budget:      budget,
		RateNum:     rate.Numerator,
		RateDenom:   rate.Denominator,
		At:          now,
	})
	return &InitializeResult{Pool: st.Pool.Clone()}, nil
}

// Stake moves amount from staker into custody and opens a stake cycle locked
// for lockPeriod. Lock periods are truncated to whole seconds.
func (e *Engine) Stake(ctx context.Context, st *State, auth Authorization, staker crypto.Address, amount uint64, lockPeriod time.Duration) (*StakeResult, error) {
	const op = OpStake
	if err := e.precheck(op, st, staker); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, &OpError{Op: op, Staker: staker, State: st.poolStatus(), Kind: ErrInvalidAmount}
	}
	pool := st.Pool
	if pool == nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: st.poolStatus(), Kind: ErrPoolNotInitialized}
	}
	lockPeriod = lockPeriod.Truncate(time.Second)
	if lockPeriod < 0 || (e.cfg.MaxLockPeriod > 0 && lockPeriod > e.cfg.MaxLockPeriod) {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: "inactive", Kind: ErrInvalidLockPeriod,
			Cause: fmt.Errorf("lock period %s outside [0, %s]", lockPeriod, e.cfg.MaxLockPeriod)}
	}

	existing, _ := st.Staker(staker)
	var nonce uint64
	if existing != nil {
		nonce = existing.Nonce
	}
	if err := verify(auth, e.pool, op, staker, nonce, amount, uint64(lockPeriod/time.Second)); err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: existing.status(), Kind: ErrUnauthorized, Cause: err}
	}
	if existing.Active() {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: existing.status(), Kind: ErrAlreadyStaked}
	}

	newTotal, err := addChecked(pool.TotalStaked, amount)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: "inactive", Kind: ErrArithmeticOverflow, Cause: err}
	}
	balance, err := e.ledger.Balance(ctx, staker)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: "inactive", Kind: ErrTransferFailed, Cause: err}
	}
	if balance < amount {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: "inactive", Kind: ErrInsufficientBalance,
			Cause: fmt.Errorf("balance %d", balance)}
	}
	if err := e.ledger.Transfer(ctx, staker, e.custody, amount); err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: amount, State: "inactive", Kind: ErrTransferFailed, Cause: err}
	}

	now := e.ledger.Now()
	account := existing
	if account == nil {
		account = &StakerAccount{Owner: staker}
		st.Stakers[staker] = account
	}
	account.AmountStaked = amount
	account.StakeStartedAt = now
	account.LockPeriod = lockPeriod
	account.AccruedUnclaimed = 0
	account.HasPremiumAccess = amount >= e.cfg.PremiumThreshold
	account.Nonce = nonce + 1
	pool.TotalStaked = newTotal
	pool.ActiveStakers++

	e.emit(events.Staked{
		Account:    staker,
		Amount:     amount,
		LockPeriod: lockPeriod,
		UnlockAt:   account.UnlockAt(),
		Premium:    account.HasPremiumAccess,
		NewTotal:   newTotal,
	})
	return &StakeResult{Pool: pool.Clone(), Staker: account.Clone()}, nil
}

// UnstakeAndClaim returns the staker's principal plus accrued reward once the
// lock has elapsed. Rewards beyond the remaining budget are capped unless the
// engine runs with StrictBudget.
func (e *Engine) UnstakeAndClaim(ctx context.Context, st *State, auth Authorization, staker crypto.Address) (*UnstakeResult, error) {
	const op = OpUnstake
	if err := e.precheck(op, st, staker); err != nil {
		return nil, err
	}
	pool := st.Pool
	if pool == nil {
		return nil, &OpError{Op: op, Staker: staker, State: st.poolStatus(), Kind: ErrPoolNotInitialized}
	}
	account, ok := st.Staker(staker)
	if !ok || !account.Active() {
		return nil, &OpError{Op: op, Staker: staker, State: "inactive", Kind: ErrNotFound}
	}
	principal := account.AmountStaked
	if err := verify(auth, e.pool, op, staker, account.Nonce); err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrUnauthorized, Cause: err}
	}

	now := e.ledger.Now()
	if unlock := account.UnlockAt(); now.Before(unlock) {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrStillLocked,
			Cause: fmt.Errorf("unlocks at %s", unlock.UTC().Format(time.RFC3339))}
	}

	elapsed := now.Sub(account.StakeStartedAt)
	reward, err := e.owed(pool, account, elapsed)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: KindOf(err), Cause: err}
	}
	remaining := pool.RemainingReward()
	paid, shortfall := capReward(reward, remaining)
	if shortfall > 0 && e.cfg.StrictBudget {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrRewardBudgetExhausted,
			Cause: fmt.Errorf("reward %d exceeds remaining %d", reward, remaining)}
	}
	payout, err := addChecked(principal, paid)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrArithmeticOverflow, Cause: err}
	}
	newTotal, err := subChecked(pool.TotalStaked, principal)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrArithmeticOverflow, Cause: err}
	}
	claimed, err := addChecked(account.TotalClaimed, paid)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: principal, State: account.status(), Kind: ErrArithmeticOverflow, Cause: err}
	}
	if err := e.ledger.Transfer(ctx, e.custody, staker, payout); err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: payout, State: account.status(), Kind: ErrTransferFailed, Cause: err}
	}

	account.AmountStaked = 0
	account.AccruedUnclaimed = 0
	account.HasPremiumAccess = false
	account.Nonce++
	account.TotalClaimed = claimed
	pool.TotalStaked = newTotal
	pool.DistributedReward += paid
	if pool.ActiveStakers > 0 {
		pool.ActiveStakers--
	}

	if shortfall > 0 {
		e.emit(events.RewardShortfall{Account: staker, Attempted: reward, Paid: paid, Remaining: pool.RemainingReward()})
	}
	e.emit(events.UnstakedAndClaimed{
		Account:   staker,
		Principal: principal,
		Reward:    paid,
		Shortfall: shortfall,
		Elapsed:   elapsed,
		NewTotal:  newTotal,
	})
	return &UnstakeResult{
		Pool:      pool.Clone(),
		Staker:    account.Clone(),
		Principal: principal,
		Reward:    paid,
		Shortfall: shortfall,
		Elapsed:   elapsed,
		ClaimedAt: now,
	}, nil
}

// PreviewReward reports what a claim by staker at the given instant would
// pay. It never mutates st.
func (e *Engine) PreviewReward(st *State, staker crypto.Address, at time.Time) (*Preview, error) {
	const op = "preview"
	if st == nil {
		return nil, errNilState
	}
	if st.Pool == nil {
		return nil, &OpError{Op: op, Staker: staker, State: st.poolStatus(), Kind: ErrPoolNotInitialized}
	}
	account, ok := st.Staker(staker)
	if !ok || !account.Active() {
		return nil, &OpError{Op: op, Staker: staker, State: "inactive", Kind: ErrNotFound}
	}
	elapsed := at.Sub(account.StakeStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	reward, err := e.owed(st.Pool, account, elapsed)
	if err != nil {
		return nil, &OpError{Op: op, Staker: staker, Amount: account.AmountStaked, State: account.status(), Kind: KindOf(err), Cause: err}
	}
	payable, shortfall := capReward(reward, st.Pool.RemainingReward())
	unlock := account.UnlockAt()
	return &Preview{
		Staker:      staker,
		Principal:   account.AmountStaked,
		Reward:      reward,
		Payable:     payable,
		Shortfall:   shortfall,
		UnlockAt:    unlock,
		Locked:      at.Before(unlock),
		Elapsed:     elapsed,
		PremiumTier: account.HasPremiumAccess,
	}, nil
}

func (e *Engine) owed(pool *Pool, account *StakerAccount, elapsed time.Duration) (uint64, error) {
	accrued, err := ComputeReward(account.AmountStaked, elapsed, pool.Rate)
	if err != nil {
		return 0, err
	}
	return addChecked(accrued, account.AccruedUnclaimed)
}
