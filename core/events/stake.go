package events

import (
	"strconv"
	"strings"
	"time"

	"stakepool/core/types"
	"stakepool/crypto"
)

const (
	// TypePoolInitialized is emitted once when the reward pool is created.
	TypePoolInitialized = "stake.poolInitialized"
	// TypeStaked captures a new stake entering custody.
	TypeStaked = "stake.staked"
	// TypeUnstakedAndClaimed captures principal and reward leaving custody.
	TypeUnstakedAndClaimed = "stake.unstakedAndClaimed"
	// TypeRewardShortfall signals that the remaining budget capped a payout.
	TypeRewardShortfall = "stake.rewardShortfall"
	// TypeStakePaused is emitted when a mutation is rejected due to a pause toggle.
	TypeStakePaused = "stake.paused"

	// StakeOperationInitialize identifies the pool initialization flow.
	StakeOperationInitialize = "initialize"
	// StakeOperationStake identifies the stake flow.
	StakeOperationStake = "stake"
	// StakeOperationUnstake identifies the unstake-and-claim flow.
	StakeOperationUnstake = "unstakeAndClaim"
)

// PoolInitialized records the reward budget escrowed at pool creation.
type PoolInitialized struct {
	Pool        crypto.Address
	Custody     crypto.Address
	Initializer crypto.Address
	Budget      uint64
	RateNum     uint64
	RateDenom   uint64
	At          time.Time
}

// EventType satisfies the Event interface.
func (PoolInitialized) EventType() string { return TypePoolInitialized }

// Event converts the structured payload into a broadcastable event.
func (e PoolInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypePoolInitialized,
		Attributes: map[string]string{
			"pool":        e.Pool.String(),
			"custody":     e.Custody.String(),
			"initializer": e.Initializer.String(),
			"budget":      formatUint(e.Budget),
			"rate":        formatUint(e.RateNum) + "/" + formatUint(e.RateDenom),
			"at":          formatUnix(e.At),
		},
	}
}

// Staked captures a stake accepted into custody.
type Staked struct {
	Account    crypto.Address
	Amount     uint64
	LockPeriod time.Duration
	UnlockAt   time.Time
	Premium    bool
	NewTotal   uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	attrs := map[string]string{
		"addr":        e.Account.String(),
		"amount":      formatUint(e.Amount),
		"lockSeconds": formatUint(uint64(e.LockPeriod / time.Second)),
		"unlockAt":    formatUnix(e.UnlockAt),
		"totalStaked": formatUint(e.NewTotal),
	}
	if e.Premium {
		attrs["premium"] = "true"
	}
	return &types.Event{Type: TypeStaked, Attributes: attrs}
}

// UnstakedAndClaimed captures the principal and reward returned to a staker.
type UnstakedAndClaimed struct {
	Account   crypto.Address
	Principal uint64
	Reward    uint64
	Shortfall uint64
	Elapsed   time.Duration
	NewTotal  uint64
}

// EventType satisfies the Event interface.
func (UnstakedAndClaimed) EventType() string { return TypeUnstakedAndClaimed }

// Event converts the structured payload into a broadcastable event.
func (e UnstakedAndClaimed) Event() *types.Event {
	attrs := map[string]string{
		"addr":           e.Account.String(),
		"principal":      formatUint(e.Principal),
		"reward":         formatUint(e.Reward),
		"elapsedSeconds": formatUint(uint64(e.Elapsed / time.Second)),
		"totalStaked":    formatUint(e.NewTotal),
	}
	if e.Shortfall > 0 {
		attrs["shortfall"] = formatUint(e.Shortfall)
	}
	return &types.Event{Type: TypeUnstakedAndClaimed, Attributes: attrs}
}

// RewardShortfall indicates that the remaining reward budget limited a claim.
type RewardShortfall struct {
	Account   crypto.Address
	Attempted uint64
	Paid      uint64
	Remaining uint64
}

// EventType satisfies the Event interface.
func (RewardShortfall) EventType() string { return TypeRewardShortfall }

// Event converts the structured payload into a broadcastable event.
func (e RewardShortfall) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardShortfall,
		Attributes: map[string]string{
			"addr":      e.Account.String(),
			"attempted": formatUint(e.Attempted),
			"paid":      formatUint(e.Paid),
			"remaining": formatUint(e.Remaining),
		},
	}
}

// StakePaused captures a staking request rejected due to a pause toggle.
type StakePaused struct {
	Account   crypto.Address
	Operation string
	Reason    string
}

// EventType satisfies the Event interface.
func (StakePaused) EventType() string { return TypeStakePaused }

// Event converts the structured payload into a broadcastable event.
func (e StakePaused) Event() *types.Event {
	attrs := make(map[string]string)
	if !e.Account.IsZero() {
		attrs["addr"] = e.Account.String()
	}
	if op := strings.TrimSpace(e.Operation); op != "" {
		attrs["operation"] = op
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeStakePaused, Attributes: attrs}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatUnix(ts time.Time) string {
	if ts.IsZero() {
		return "0"
	}
	return strconv.FormatInt(ts.Unix(), 10)
}
