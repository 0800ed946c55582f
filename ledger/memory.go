package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"stakepool/crypto"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrBalanceOverflow is returned when a credit would overflow a balance.
	ErrBalanceOverflow = errors.New("ledger: balance overflow")
	// ErrSelfTransfer is returned when source and destination are identical.
	ErrSelfTransfer = errors.New("ledger: source and destination are identical")
)

// Memory is an in-process ledger. Every transfer is applied under a single
// lock so it is all-or-nothing.
type Memory struct {
	mu        sync.Mutex
	balances  map[crypto.Address]uint64
	clock     Clock
	failNext  error
	transfers uint64
}

// NewMemory returns an empty ledger. A nil clock selects SystemClock.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Memory{balances: make(map[crypto.Address]uint64), clock: clock}
}

// Fund credits amount to account outside of any transfer.
func (m *Memory) Fund(ctx context.Context, account crypto.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, carry := bits.Add64(m.balances[account], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	m.balances[account] = sum
	return nil
}

// FailTransfers makes every subsequent Transfer fail with err until it is
// called again with nil.
func (m *Memory) FailTransfers(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Transfer implements the engine ledger contract.
func (m *Memory) Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == to {
		return ErrSelfTransfer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		return m.failNext
	}
	if amount == 0 {
		return nil
	}
	src := m.balances[from]
	if src < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src, amount)
	}
	dst, carry := bits.Add64(m.balances[to], amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	m.balances[from] = src - amount
	m.balances[to] = dst
	m.transfers++
	return nil
}

// Balance implements the engine ledger contract.
func (m *Memory) Balance(ctx context.Context, account crypto.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// Now implements the engine ledger contract.
func (m *Memory) Now() time.Time { return m.clock.Now() }

// Transfers reports how many transfers have succeeded.
func (m *Memory) Transfers() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

// Snapshot returns a copy of every non-zero balance.
func (m *Memory) Snapshot() map[crypto.Address]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[crypto.Address]uint64, len(m.balances))
	for addr, bal := range m.balances {
		if bal > 0 {
			out[addr] = bal
		}
	}
	return out
}
