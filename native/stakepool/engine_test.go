package stakepool

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"stakepool/core/events"
	"stakepool/crypto"
	"stakepool/ledger"
	"stakepool/native/common"
)

type harness struct {
	t        *testing.T
	engine   *Engine
	ledger   *ledger.Memory
	clock    *ledger.ManualClock
	state    *State
	recorder *events.Recorder
	pauses   *common.Pauses
	initKey  *crypto.PrivateKey
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	initKey := mustKey(t)
	cfg := Config{Namespace: "stakepool-test", Initializer: initKey.Address()}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	clock := ledger.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	mem := ledger.NewMemory(clock)
	recorder := &events.Recorder{}
	pauses := common.NewPauses()
	engine.SetLedger(mem)
	engine.SetEmitter(recorder)
	engine.SetPauses(pauses)
	return &harness{
		t:        t,
		engine:   engine,
		ledger:   mem,
		clock:    clock,
		state:    NewState(),
		recorder: recorder,
		pauses:   pauses,
		initKey:  initKey,
	}
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func (h *harness) fund(addr crypto.Address, amount uint64) {
	h.t.Helper()
	if err := h.ledger.Fund(context.Background(), addr, amount); err != nil {
		h.t.Fatalf("fund: %v", err)
	}
}

func (h *harness) initialize(budget uint64) *InitializeResult {
	h.t.Helper()
	h.fund(h.initKey.Address(), budget)
	auth, err := SignInitialize(h.initKey, h.engine.PoolAddress(), budget)
	if err != nil {
		h.t.Fatalf("sign initialize: %v", err)
	}
	res, err := h.engine.InitializePool(context.Background(), h.state, auth, budget)
	if err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
	return res
}

func (h *harness) newStaker(balance uint64) *crypto.PrivateKey {
	h.t.Helper()
	key := mustKey(h.t)
	h.fund(key.Address(), balance)
	return key
}

func (h *harness) nonce(addr crypto.Address) uint64 {
	if acc, ok := h.state.Staker(addr); ok {
		return acc.Nonce
	}
	return 0
}

func (h *harness) stake(key *crypto.PrivateKey, amount uint64, lock time.Duration) (*StakeResult, error) {
	h.t.Helper()
	auth, err := SignStake(key, h.engine.PoolAddress(), h.nonce(key.Address()), amount, uint64(lock/time.Second))
	if err != nil {
		h.t.Fatalf("sign stake: %v", err)
	}
	return h.engine.Stake(context.Background(), h.state, auth, key.Address(), amount, lock)
}

func (h *harness) unstake(key *crypto.PrivateKey) (*UnstakeResult, error) {
	h.t.Helper()
	auth, err := SignUnstake(key, h.engine.PoolAddress(), h.nonce(key.Address()))
	if err != nil {
		h.t.Fatalf("sign unstake: %v", err)
	}
	return h.engine.UnstakeAndClaim(context.Background(), h.state, auth, key.Address())
}

func (h *harness) balance(addr crypto.Address) uint64 {
	h.t.Helper()
	bal, err := h.ledger.Balance(context.Background(), addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) assertCustodyInvariant() {
	h.t.Helper()
	pool := h.state.Pool
	if pool == nil {
		return
	}
	want := pool.TotalStaked + pool.RemainingReward()
	if got := h.balance(pool.Custody); got != want {
		h.t.Fatalf("custody balance %d, want staked %d + remaining %d", got, pool.TotalStaked, pool.RemainingReward())
	}
	if total := h.state.TotalActiveStake(); total != pool.TotalStaked {
		h.t.Fatalf("total staked %d does not match sum of stakes %d", pool.TotalStaked, total)
	}
	if pool.DistributedReward > pool.TotalRewardBudget {
		h.t.Fatalf("distributed %d exceeds budget %d", pool.DistributedReward, pool.TotalRewardBudget)
	}
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var opErr *OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected *OpError, got %T", err)
	}
}

func TestStakeLockAndClaimScenario(t *testing.T) {
	h := newHarness(t, nil)
	res := h.initialize(1_000_000)
	if res.Pool.TotalRewardBudget != 1_000_000 || res.Pool.DistributedReward != 0 || res.Pool.TotalStaked != 0 {
		t.Fatalf("unexpected pool after init: %+v", res.Pool)
	}
	h.assertCustodyInvariant()

	staker := h.newStaker(1000)
	if _, err := h.stake(staker, 100, 30*day); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if h.state.Pool.TotalStaked != 100 || h.balance(staker.Address()) != 900 {
		t.Fatalf("stake not applied")
	}
	h.assertCustodyInvariant()

	h.clock.Advance(10 * day)
	locked := h.state.Clone()
	stakerBalance := h.balance(staker.Address())
	_, err := h.unstake(staker)
	expectKind(t, err, ErrStillLocked)
	if !reflect.DeepEqual(locked, h.state) {
		t.Fatalf("state changed after locked unstake")
	}
	if h.balance(staker.Address()) != stakerBalance {
		t.Fatalf("balance moved on locked unstake")
	}

	h.clock.Advance(21 * day)
	out, err := h.unstake(staker)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if out.Principal != 100 || out.Reward != 103 || out.Shortfall != 0 {
		t.Fatalf("unexpected payout: %+v", out)
	}
	if !out.ClaimedAt.Equal(h.clock.Now()) {
		t.Fatalf("claimed at %s, clock at %s", out.ClaimedAt, h.clock.Now())
	}
	if h.state.Pool.TotalStaked != 0 || h.state.Pool.DistributedReward != 103 {
		t.Fatalf("unexpected pool: %+v", h.state.Pool)
	}
	if got := h.balance(staker.Address()); got != 1103 {
		t.Fatalf("staker balance %d", got)
	}
	h.assertCustodyInvariant()

	want := []string{events.TypePoolInitialized, events.TypeStaked, events.TypeUnstakedAndClaimed}
	if got := h.recorder.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events %v, want %v", got, want)
	}
}

func TestInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000_000)
	staker := h.newStaker(50)
	before := h.state.Clone()

	_, err := h.stake(staker, 100, day)
	expectKind(t, err, ErrInsufficientBalance)
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("state changed after failed stake")
	}
	if h.balance(staker.Address()) != 50 {
		t.Fatalf("balance moved")
	}
}

func TestStakeValidation(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MaxLockPeriod = 365 * day })
	staker := h.newStaker(1000)

	_, err := h.stake(staker, 10, day)
	expectKind(t, err, ErrPoolNotInitialized)

	h.initialize(100)
	_, err = h.stake(staker, 0, day)
	expectKind(t, err, ErrInvalidAmount)
	_, err = h.stake(staker, 10, 400*day)
	expectKind(t, err, ErrInvalidLockPeriod)

	if _, err := h.stake(staker, 10, day); err != nil {
		t.Fatalf("stake: %v", err)
	}
	staked := h.state.Clone()
	_, err = h.stake(staker, 10, day)
	expectKind(t, err, ErrAlreadyStaked)
	if !reflect.DeepEqual(staked, h.state) {
		t.Fatalf("state changed after restake")
	}
}

func TestUnstakeUnknownStaker(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(100)
	_, err := h.unstake(mustKey(t))
	expectKind(t, err, ErrNotFound)
}

func TestInitializeTwiceAndUnauthorized(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(500)

	auth, _ := SignInitialize(h.initKey, h.engine.PoolAddress(), 500)
	_, err := h.engine.InitializePool(context.Background(), h.state, auth, 500)
	expectKind(t, err, ErrAlreadyInitialized)

	other := newHarness(t, nil)
	intruder := mustKey(t)
	other.fund(intruder.Address(), 500)
	auth, _ = SignInitialize(intruder, other.engine.PoolAddress(), 500)
	_, err = other.engine.InitializePool(context.Background(), other.state, auth, 500)
	expectKind(t, err, ErrUnauthorized)
	if other.state.Pool != nil {
		t.Fatalf("unauthorized initialize created a pool")
	}
}

func TestInitializeRequiresFundedInitializer(t *testing.T) {
	h := newHarness(t, nil)
	auth, _ := SignInitialize(h.initKey, h.engine.PoolAddress(), 10)
	_, err := h.engine.InitializePool(context.Background(), h.state, auth, 10)
	expectKind(t, err, ErrInsufficientBalance)
	if h.state.Pool != nil {
		t.Fatalf("pool created without escrow")
	}
}

func TestAuthorizationReplayAndForgery(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RewardPeriod = day })
	h.initialize(1_000)
	staker := h.newStaker(1_000)

	auth, _ := SignStake(staker, h.engine.PoolAddress(), 0, 100, 0)
	if _, err := h.engine.Stake(context.Background(), h.state, auth, staker.Address(), 100, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.unstake(staker); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	_, err := h.engine.Stake(context.Background(), h.state, auth, staker.Address(), 100, 0)
	expectKind(t, err, ErrUnauthorized)

	thief := mustKey(t)
	auth, _ = SignStake(thief, h.engine.PoolAddress(), h.nonce(staker.Address()), 100, 0)
	auth.Signer = staker.Address()
	_, err = h.engine.Stake(context.Background(), h.state, auth, staker.Address(), 100, 0)
	expectKind(t, err, ErrUnauthorized)

	// amounts are bound into the signature
	auth, _ = SignStake(staker, h.engine.PoolAddress(), h.nonce(staker.Address()), 1, 0)
	_, err = h.engine.Stake(context.Background(), h.state, auth, staker.Address(), 100, 0)
	expectKind(t, err, ErrUnauthorized)

	foreign := PoolAddress("another-deployment")
	auth, _ = SignStake(staker, foreign, h.nonce(staker.Address()), 100, 0)
	_, err = h.engine.Stake(context.Background(), h.state, auth, staker.Address(), 100, 0)
	expectKind(t, err, ErrUnauthorized)
}

func TestTransferFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000)
	staker := h.newStaker(1_000)
	if _, err := h.stake(staker, 100, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	h.clock.Advance(5 * day)

	boom := errors.New("ledger offline")
	h.ledger.FailTransfers(boom)
	before := h.state.Clone()
	_, err := h.unstake(staker)
	expectKind(t, err, ErrTransferFailed)
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("state changed after failed transfer")
	}

	other := h.newStaker(500)
	before = h.state.Clone()
	_, err = h.stake(other, 100, 0)
	expectKind(t, err, ErrTransferFailed)
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("state changed after failed stake transfer")
	}

	h.ledger.FailTransfers(nil)
	if _, err := h.unstake(staker); err != nil {
		t.Fatalf("retry unstake: %v", err)
	}
	h.assertCustodyInvariant()
}

func TestRewardCappedAtRemainingBudget(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RewardPeriod = day })
	h.initialize(150)
	a := h.newStaker(1_000)
	b := h.newStaker(1_000)
	if _, err := h.stake(a, 100, 0); err != nil {
		t.Fatalf("stake a: %v", err)
	}
	if _, err := h.stake(b, 100, 0); err != nil {
		t.Fatalf("stake b: %v", err)
	}
	h.clock.Advance(day)

	out, err := h.unstake(a)
	if err != nil {
		t.Fatalf("unstake a: %v", err)
	}
	if out.Reward != 100 || out.Shortfall != 0 {
		t.Fatalf("unexpected payout a: %+v", out)
	}
	out, err = h.unstake(b)
	if err != nil {
		t.Fatalf("unstake b: %v", err)
	}
	if out.Principal != 100 || out.Reward != 50 || out.Shortfall != 50 {
		t.Fatalf("unexpected payout b: %+v", out)
	}
	if h.state.Pool.RemainingReward() != 0 || h.state.Pool.DistributedReward != 150 {
		t.Fatalf("budget accounting off: %+v", h.state.Pool)
	}
	h.assertCustodyInvariant()

	types := h.recorder.Types()
	if types[len(types)-2] != events.TypeRewardShortfall {
		t.Fatalf("expected shortfall event, got %v", types)
	}
}

func TestStrictBudgetRejectsShortfall(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RewardPeriod = day
		cfg.StrictBudget = true
	})
	h.initialize(10)
	staker := h.newStaker(1_000)
	if _, err := h.stake(staker, 100, 0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	h.clock.Advance(day)
	before := h.state.Clone()
	_, err := h.unstake(staker)
	expectKind(t, err, ErrRewardBudgetExhausted)
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("state changed after strict budget failure")
	}
}

func TestPremiumAccess(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000_000)
	whale := h.newStaker(5_000)
	minnow := h.newStaker(5_000)

	res, err := h.stake(whale, 1_000, 0)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if !res.Staker.HasPremiumAccess {
		t.Fatalf("expected premium access at threshold")
	}
	res, err = h.stake(minnow, 999, 0)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if res.Staker.HasPremiumAccess {
		t.Fatalf("premium granted below threshold")
	}
	out, err := h.unstake(whale)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if out.Staker.HasPremiumAccess {
		t.Fatalf("premium access survived unstake")
	}
}

func TestRecordReusedAcrossCycles(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RewardPeriod = day })
	h.initialize(1_000)
	staker := h.newStaker(1_000)
	for cycle := 0; cycle < 3; cycle++ {
		if _, err := h.stake(staker, 10, time.Hour); err != nil {
			t.Fatalf("cycle %d stake: %v", cycle, err)
		}
		h.clock.Advance(day)
		if _, err := h.unstake(staker); err != nil {
			t.Fatalf("cycle %d unstake: %v", cycle, err)
		}
	}
	acc, _ := h.state.Staker(staker.Address())
	if acc.Nonce != 6 || acc.TotalClaimed != 30 || acc.Active() {
		t.Fatalf("unexpected account after cycles: %+v", acc)
	}
	if h.state.Pool.ActiveStakers != 0 {
		t.Fatalf("active stakers = %d", h.state.Pool.ActiveStakers)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000)
	staker := h.newStaker(1_000)
	h.pauses.Pause(ModuleName, "incident")

	before := h.state.Clone()
	_, err := h.stake(staker, 100, 0)
	expectKind(t, err, ErrPaused)
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("pause cause not preserved: %v", err)
	}
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("paused stake changed state")
	}
	types := h.recorder.Types()
	if types[len(types)-1] != events.TypeStakePaused {
		t.Fatalf("expected paused event, got %v", types)
	}

	h.pauses.Resume(ModuleName)
	if _, err := h.stake(staker, 100, 0); err != nil {
		t.Fatalf("stake after resume: %v", err)
	}
}

func TestConcurrentStakesSerialize(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000)
	a := h.newStaker(1_000)
	b := h.newStaker(1_000)

	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, tc := range []struct {
		key    *crypto.PrivateKey
		amount uint64
	}{{a, 100}, {b, 200}} {
		auth, err := SignStake(tc.key, h.engine.PoolAddress(), 0, tc.amount, 0)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		wg.Add(1)
		go func(staker crypto.Address, amount uint64, auth Authorization) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			_, err := h.engine.Stake(context.Background(), h.state, auth, staker, amount, 0)
			errs <- err
		}(tc.key.Address(), tc.amount, auth)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("stake: %v", err)
		}
	}
	if h.state.Pool.TotalStaked != 300 || h.state.Pool.ActiveStakers != 2 {
		t.Fatalf("unexpected totals: %+v", h.state.Pool)
	}
	h.assertCustodyInvariant()
}

func TestPreviewRewardIsReadOnly(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(1_000_000)
	staker := h.newStaker(1_000)
	if _, err := h.stake(staker, 100, 30*day); err != nil {
		t.Fatalf("stake: %v", err)
	}
	before := h.state.Clone()
	start := h.clock.Now()

	p, err := h.engine.PreviewReward(h.state, staker.Address(), start.Add(10*day))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !p.Locked || p.Reward != 33 || p.Payable != 33 {
		t.Fatalf("unexpected preview: %+v", p)
	}
	p, err = h.engine.PreviewReward(h.state, staker.Address(), start.Add(31*day))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if p.Locked || p.Reward != 103 || !p.UnlockAt.Equal(start.Add(30*day)) {
		t.Fatalf("unexpected preview: %+v", p)
	}
	if !reflect.DeepEqual(before, h.state) {
		t.Fatalf("preview mutated state")
	}
	_, err = h.engine.PreviewReward(h.state, mustKey(t).Address(), start)
	expectKind(t, err, ErrNotFound)
}

func TestLedgerNotConfigured(t *testing.T) {
	key := mustKey(t)
	engine, err := NewEngine(Config{Namespace: "x", Initializer: key.Address()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	auth, _ := SignInitialize(key, engine.PoolAddress(), 1)
	_, err = engine.InitializePool(context.Background(), NewState(), auth, 1)
	expectKind(t, err, ErrLedgerNotConfigured)
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{Initializer: mustKey(t).Address()}); err == nil {
		t.Fatalf("expected namespace error")
	}
	if _, err := NewEngine(Config{Namespace: "x"}); err == nil {
		t.Fatalf("expected initializer error")
	}
}

func TestOpErrorMessage(t *testing.T) {
	err := &OpError{Op: OpStake, Amount: 5, State: "staked", Kind: ErrAlreadyStaked}
	if got := err.Error(); got != "stakepool: stake already active (op=stake amount=5 state=staked)" {
		t.Fatalf("unexpected message %q", got)
	}
	if KindOf(err) != ErrAlreadyStaked {
		t.Fatalf("KindOf mismatch")
	}
	if KindOf(errors.New("other")) != nil {
		t.Fatalf("unexpected kind for foreign error")
	}
}
