package stakepool

import (
	"sort"
	"time"

	"stakepool/crypto"
)

const (
	// ModuleName identifies the staking pool for pause toggles and metrics.
	ModuleName = "stakepool"

	// DefaultPremiumThreshold is the stake at or above which a staker is
	// granted premium access.
	DefaultPremiumThreshold uint64 = 1000

	// DefaultRewardPeriod is the staking span over which a stake earns a
	// reward equal to its principal.
	DefaultRewardPeriod = 30 * 24 * time.Hour

	poolSeed    = "pool"
	custodySeed = "custody"
)

// Pool is the singleton reward pool.
type Pool struct {
	ID                crypto.Address
	Custody           crypto.Address
	Initializer       crypto.Address
	TotalRewardBudget uint64
	DistributedReward uint64
	TotalStaked       uint64
	Rate              Rate
	ActiveStakers     uint64
	InitializedAt     time.Time
}

// RemainingReward reports how much of the budget has not been paid out yet.
func (p *Pool) RemainingReward() uint64 {
	if p == nil || p.DistributedReward >= p.TotalRewardBudget {
		return 0
	}
	return p.TotalRewardBudget - p.DistributedReward
}

// Clone returns a copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// StakerAccount tracks a single participant's stake cycle.
type StakerAccount struct {
	Owner            crypto.Address
	AmountStaked     uint64
	StakeStartedAt   time.Time
	LockPeriod       time.Duration
	AccruedUnclaimed uint64
	HasPremiumAccess bool
	Nonce            uint64
	TotalClaimed     uint64
}

// Active reports whether the account currently holds a stake.
func (s *StakerAccount) Active() bool {
	return s != nil && s.AmountStaked > 0
}

// UnlockAt returns the earliest time the stake may be withdrawn.
func (s *StakerAccount) UnlockAt() time.Time {
	if s == nil || s.StakeStartedAt.IsZero() {
		return time.Time{}
	}
	return s.StakeStartedAt.Add(s.LockPeriod)
}

// Clone returns a copy of the account.
func (s *StakerAccount) Clone() *StakerAccount {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

func (s *StakerAccount) status() string {
	if s.Active() {
		return "staked"
	}
	return "inactive"
}

// State is the full engine state. It is owned by a single caller at a time;
// the engine never retains it between calls.
type State struct {
	Pool    *Pool
	Stakers map[crypto.Address]*StakerAccount
}

// NewState returns an empty, uninitialized state.
func NewState() *State {
	return &State{Stakers: make(map[crypto.Address]*StakerAccount)}
}

// Staker looks up the account for owner.
func (s *State) Staker(owner crypto.Address) (*StakerAccount, bool) {
	if s == nil || s.Stakers == nil {
		return nil, false
	}
	acc, ok := s.Stakers[owner]
	return acc, ok && acc != nil
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{Pool: s.Pool.Clone(), Stakers: make(map[crypto.Address]*StakerAccount, len(s.Stakers))}
	for addr, acc := range s.Stakers {
		out.Stakers[addr] = acc.Clone()
	}
	return out
}

// StakerAddresses returns the known staker identities in byte order.
func (s *State) StakerAddresses() []crypto.Address {
	if s == nil {
		return nil
	}
	out := make([]crypto.Address, 0, len(s.Stakers))
	for addr := range s.Stakers {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// TotalActiveStake sums the stake of every active account.
func (s *State) TotalActiveStake() uint64 {
	if s == nil {
		return 0
	}
	var total uint64
	for _, acc := range s.Stakers {
		if acc.Active() {
			total += acc.AmountStaked
		}
	}
	return total
}

func (s *State) poolStatus() string {
	if s == nil || s.Pool == nil {
		return "uninitialized"
	}
	return "initialized"
}

// PoolAddress returns the pool identity derived for namespace.
func PoolAddress(namespace string) crypto.Address {
	return crypto.DeriveAddressString(namespace, poolSeed)
}

// CustodyAddress returns the custody account derived for namespace.
func CustodyAddress(namespace string) crypto.Address {
	return crypto.DeriveAddressString(namespace, custodySeed)
}

// InitializeResult reports the pool created by InitializePool.
type InitializeResult struct {
	Pool *Pool
}

// StakeResult reports the records changed by Stake.
type StakeResult struct {
	Pool   *Pool
	Staker *StakerAccount
}

// UnstakeResult reports the payout and the records changed by UnstakeAndClaim.
type UnstakeResult struct {
	Pool      *Pool
	Staker    *StakerAccount
	Principal uint64
	Reward    uint64
	Shortfall uint64
	Elapsed   time.Duration
	// ClaimedAt is the ledger instant the lock check and Elapsed were taken at.
	ClaimedAt time.Time
}

// Preview describes what a claim at a given instant would pay.
type Preview struct {
	Staker      crypto.Address
	Principal   uint64
	Reward      uint64
	Payable     uint64
	Shortfall   uint64
	UnlockAt    time.Time
	Locked      bool
	Elapsed     time.Duration
	PremiumTier bool
}
