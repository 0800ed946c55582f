package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"stakepool/core/events"
	"stakepool/crypto"
	"stakepool/native/stakepool"
	"stakepool/observability"
	"stakepool/storage/stakestore"
)

// ErrHalted is returned for every mutation once a commit has failed after
// the ledger already moved funds. Operators must reconcile before restarting.
var ErrHalted = errors.New("stakingd: mutations halted after persistence failure")

const maxReceiptPage = 1000

// Options wires the service's collaborators. Bus, Logger, Metrics and Tracer
// are optional.
type Options struct {
	Engine  *stakepool.Engine
	Ledger  stakepool.Ledger
	Store   *stakestore.Store
	Bus     *events.Bus
	Logger  *slog.Logger
	Metrics *observability.StakeMetrics
	Tracer  trace.Tracer
}

// Service owns the pool state. Every operation, read or write, holds mu, so
// mutations are applied in a single global order.
type Service struct {
	engine  *stakepool.Engine
	ledger  stakepool.Ledger
	store   *stakestore.Store
	bus     *events.Bus
	logger  *slog.Logger
	metrics *observability.StakeMetrics
	tracer  trace.Tracer
	newID   func() string

	mu      sync.Mutex
	state   *stakepool.State
	pending pendingEvents
	halted  error
}

type pendingEvents struct {
	events []events.Event
}

func (p *pendingEvents) Emit(evt events.Event) {
	if evt != nil {
		p.events = append(p.events, evt)
	}
}

func (p *pendingEvents) drain() []events.Event {
	out := p.events
	p.events = nil
	return out
}

// New loads persisted state and returns a ready service.
func New(opts Options) (*Service, error) {
	if opts.Engine == nil {
		return nil, errors.New("stakingd: engine required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("stakingd: ledger required")
	}
	if opts.Store == nil {
		return nil, errors.New("stakingd: store required")
	}
	state, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("stakingd: load state: %w", err)
	}
	if state.Pool != nil && state.Pool.ID != opts.Engine.PoolAddress() {
		return nil, fmt.Errorf("stakingd: persisted pool %s does not belong to namespace %q", state.Pool.ID, opts.Engine.Config().Namespace)
	}
	if state.Pool != nil && state.TotalActiveStake() != state.Pool.TotalStaked {
		return nil, fmt.Errorf("stakingd: persisted total stake %d does not match stakers (%d)", state.Pool.TotalStaked, state.TotalActiveStake())
	}

	s := &Service{
		engine:  opts.Engine,
		ledger:  opts.Ledger,
		store:   opts.Store,
		bus:     opts.Bus,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		newID:   uuid.NewString,
		state:   state,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("stakingd")
	}
	s.engine.SetLedger(opts.Ledger)
	s.engine.SetEmitter(&s.pending)
	s.updateGauges()
	return s, nil
}

type mutation struct {
	pool      *stakepool.Pool
	staker    *stakepool.StakerAccount
	receipt   stakestore.Receipt
	shortfall uint64
}

func (s *Service) mutate(ctx context.Context, op string, account crypto.Address, apply func(ctx context.Context) (*mutation, error)) error {
	ctx, span := s.tracer.Start(ctx, "stakepool."+op, trace.WithAttributes(
		attribute.String("stakepool.op", op),
		attribute.String("stakepool.account", account.String()),
	))
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted != nil {
		err := fmt.Errorf("%w: %v", ErrHalted, s.halted)
		s.finish(span, op, start, err)
		return err
	}

	m, err := apply(ctx)
	if err != nil {
		s.publish()
		s.finish(span, op, start, err)
		s.logger.Info("stake operation rejected",
			"op", op,
			"addr", account.String(),
			"kind", stakepool.KindName(err),
			"error", err)
		return err
	}

	receipt := m.receipt
	receipt.ID = s.newID()
	receipt.Operation = op
	receipt.Account = account
	if err := s.store.Commit(m.pool, m.staker, &receipt); err != nil {
		s.halted = err
		s.pending.drain()
		s.metrics.SetHalted(true)
		s.logger.Error("persisting stake operation failed after ledger transfer; halting mutations",
			"op", op,
			"addr", account.String(),
			"receipt", receipt.ID,
			"error", err)
		haltErr := fmt.Errorf("%w: %v", ErrHalted, err)
		s.finish(span, op, start, haltErr)
		return haltErr
	}

	s.publish()
	s.updateGauges()
	s.metrics.RecordShortfall(m.shortfall)
	s.finish(span, op, start, nil)
	span.SetAttributes(attribute.String("stakepool.receipt", receipt.ID))
	s.logger.Info("stake operation applied",
		"op", op,
		"addr", account.String(),
		"receipt", receipt.ID,
		"seq", receipt.Seq)
	return nil
}

func (s *Service) publish() {
	for _, evt := range s.pending.drain() {
		if s.bus != nil {
			s.bus.Emit(evt)
		}
	}
}

func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.Observe(op, outcome, time.Since(start))
}

func (s *Service) updateGauges() {
	if pool := s.state.Pool; pool != nil {
		s.metrics.SetPool(pool.TotalStaked, pool.RemainingReward(), pool.DistributedReward, pool.ActiveStakers)
	}
}

func outcomeLabel(err error) string {
	if errors.Is(err, ErrHalted) {
		return "Halted"
	}
	if name := stakepool.KindName(err); name != "" {
		return name
	}
	return "Internal"
}

// InitializePool creates the pool and escrows budget.
func (s *Service) InitializePool(ctx context.Context, auth stakepool.Authorization, budget uint64) (*stakepool.InitializeResult, error) {
	var res *stakepool.InitializeResult
	err := s.mutate(ctx, stakepool.OpInitialize, auth.Signer, func(ctx context.Context) (*mutation, error) {
		var err error
		res, err = s.engine.InitializePool(ctx, s.state, auth, budget)
		if err != nil {
			return nil, err
		}
		return &mutation{
			pool:    res.Pool,
			receipt: stakestore.Receipt{Amount: budget, At: res.Pool.InitializedAt},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Stake opens a stake cycle for staker.
func (s *Service) Stake(ctx context.Context, auth stakepool.Authorization, staker crypto.Address, amount uint64, lock time.Duration) (*stakepool.StakeResult, error) {
	var res *stakepool.StakeResult
	err := s.mutate(ctx, stakepool.OpStake, staker, func(ctx context.Context) (*mutation, error) {
		var err error
		res, err = s.engine.Stake(ctx, s.state, auth, staker, amount, lock)
		if err != nil {
			return nil, err
		}
		return &mutation{
			pool:   res.Pool,
			staker: res.Staker,
			receipt: stakestore.Receipt{
				Amount:     amount,
				LockPeriod: res.Staker.LockPeriod,
				At:         res.Staker.StakeStartedAt,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UnstakeAndClaim closes staker's stake cycle and pays principal plus reward.
func (s *Service) UnstakeAndClaim(ctx context.Context, auth stakepool.Authorization, staker crypto.Address) (*stakepool.UnstakeResult, error) {
	var res *stakepool.UnstakeResult
	err := s.mutate(ctx, stakepool.OpUnstake, staker, func(ctx context.Context) (*mutation, error) {
		var err error
		res, err = s.engine.UnstakeAndClaim(ctx, s.state, auth, staker)
		if err != nil {
			return nil, err
		}
		return &mutation{
			pool:      res.Pool,
			staker:    res.Staker,
			shortfall: res.Shortfall,
			receipt: stakestore.Receipt{
				Amount:    res.Principal,
				Reward:    res.Reward,
				Shortfall: res.Shortfall,
				At:        res.ClaimedAt,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Pool returns a snapshot of the pool.
func (s *Service) Pool() (*stakepool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Pool == nil {
		return nil, &stakepool.OpError{Op: "getPool", State: "uninitialized", Kind: stakepool.ErrPoolNotInitialized}
	}
	return s.state.Pool.Clone(), nil
}

// Staker returns a snapshot of the account, active or not.
func (s *Service) Staker(addr crypto.Address) (*stakepool.StakerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.state.Staker(addr)
	if !ok {
		return nil, &stakepool.OpError{Op: "getStaker", Staker: addr, Kind: stakepool.ErrNotFound}
	}
	return acc.Clone(), nil
}

// PreviewReward reports what a claim at would pay. A zero at means now.
func (s *Service) PreviewReward(addr crypto.Address, at time.Time) (*stakepool.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.IsZero() {
		at = s.ledger.Now()
	}
	return s.engine.PreviewReward(s.state, addr, at)
}

// Balance reads an account balance from the ledger.
func (s *Service) Balance(ctx context.Context, addr crypto.Address) (uint64, error) {
	return s.ledger.Balance(ctx, addr)
}

// Receipts pages through the receipt log.
func (s *Service) Receipts(from uint64, limit int) ([]stakestore.Receipt, error) {
	if limit <= 0 || limit > maxReceiptPage {
		limit = maxReceiptPage
	}
	return s.store.Receipts(from, limit)
}

// Subscribe streams published events after cursor.
func (s *Service) Subscribe(ctx context.Context, cursor string) (<-chan events.Envelope, func(), []events.Envelope, error) {
	if s.bus == nil {
		return nil, nil, nil, errors.New("stakingd: event stream disabled")
	}
	updates, cancel, backlog := s.bus.Subscribe(ctx, cursor)
	return updates, cancel, backlog, nil
}

// Halted reports the persistence failure that stopped mutations, if any.
func (s *Service) Halted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// PoolAddress is the identity authorizations must be bound to.
func (s *Service) PoolAddress() crypto.Address { return s.engine.PoolAddress() }

// CustodyAddress is the ledger account holding principal and rewards.
func (s *Service) CustodyAddress() crypto.Address { return s.engine.CustodyAddress() }

// Now returns ledger time.
func (s *Service) Now() time.Time { return s.ledger.Now() }
