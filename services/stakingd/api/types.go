// Package api defines the JSON wire types shared by stakingd and its clients.
// Token amounts travel as decimal strings so they survive JSON decoders that
// only handle 53-bit integers.
package api

import (
	"time"

	"stakepool/crypto"
	"stakepool/native/stakepool"
	"stakepool/storage/stakestore"
)

// Method names served on /rpc.
const (
	MethodInitializePool  = "stake_initializePool"
	MethodStake           = "stake_stake"
	MethodUnstakeAndClaim = "stake_unstakeAndClaim"
	MethodGetPool         = "stake_getPool"
	MethodGetStaker       = "stake_getStaker"
	MethodPreviewReward   = "stake_previewReward"
	MethodGetBalance      = "stake_getBalance"
	MethodListReceipts    = "stake_listReceipts"
)

type InitializePoolParams struct {
	Budget        uint64                  `json:"budget,string"`
	Authorization stakepool.Authorization `json:"authorization"`
}

type StakeParams struct {
	Staker        crypto.Address          `json:"staker"`
	Amount        uint64                  `json:"amount,string"`
	LockSeconds   uint64                  `json:"lockSeconds"`
	Authorization stakepool.Authorization `json:"authorization"`
}

type UnstakeParams struct {
	Staker        crypto.Address          `json:"staker"`
	Authorization stakepool.Authorization `json:"authorization"`
}

// PreviewParams asks what a claim would pay at At (unix seconds). Zero means
// the daemon's current time.
type PreviewParams struct {
	Staker crypto.Address `json:"staker"`
	At     int64          `json:"at,omitempty"`
}

type ReceiptsParams struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

type Pool struct {
	ID                crypto.Address `json:"id"`
	Custody           crypto.Address `json:"custody"`
	Initializer       crypto.Address `json:"initializer"`
	TotalRewardBudget uint64         `json:"totalRewardBudget,string"`
	DistributedReward uint64         `json:"distributedReward,string"`
	RemainingReward   uint64         `json:"remainingReward,string"`
	TotalStaked       uint64         `json:"totalStaked,string"`
	RateNumerator     uint64         `json:"rateNumerator,string"`
	RateDenominator   uint64         `json:"rateDenominator,string"`
	ActiveStakers     uint64         `json:"activeStakers"`
	InitializedAt     int64          `json:"initializedAt"`
}

type Staker struct {
	Owner            crypto.Address `json:"owner"`
	AmountStaked     uint64         `json:"amountStaked,string"`
	StakeStartedAt   int64          `json:"stakeStartedAt,omitempty"`
	LockSeconds      uint64         `json:"lockSeconds"`
	UnlockAt         int64          `json:"unlockAt,omitempty"`
	AccruedUnclaimed uint64         `json:"accruedUnclaimed,string"`
	HasPremiumAccess bool           `json:"hasPremiumAccess"`
	Nonce            uint64         `json:"nonce"`
	TotalClaimed     uint64         `json:"totalClaimed,string"`
	Active           bool           `json:"active"`
}

type StakeResult struct {
	Pool   Pool   `json:"pool"`
	Staker Staker `json:"staker"`
}

type UnstakeResult struct {
	Pool           Pool   `json:"pool"`
	Staker         Staker `json:"staker"`
	Principal      uint64 `json:"principal,string"`
	Reward         uint64 `json:"reward,string"`
	Shortfall      uint64 `json:"shortfall,string"`
	ElapsedSeconds uint64 `json:"elapsedSeconds"`
}

type Preview struct {
	Staker         crypto.Address `json:"staker"`
	Principal      uint64         `json:"principal,string"`
	Reward         uint64         `json:"reward,string"`
	Payable        uint64         `json:"payable,string"`
	Shortfall      uint64         `json:"shortfall,string"`
	UnlockAt       int64          `json:"unlockAt"`
	Locked         bool           `json:"locked"`
	ElapsedSeconds uint64         `json:"elapsedSeconds"`
	PremiumTier    bool           `json:"premiumTier"`
}

type Balance struct {
	Address crypto.Address `json:"address"`
	Balance uint64         `json:"balance,string"`
}

type Receipt struct {
	Seq         uint64         `json:"seq"`
	ID          string         `json:"id"`
	Operation   string         `json:"operation"`
	Account     crypto.Address `json:"account"`
	Amount      uint64         `json:"amount,string"`
	Reward      uint64         `json:"reward,string"`
	Shortfall   uint64         `json:"shortfall,string"`
	LockSeconds uint64         `json:"lockSeconds,omitempty"`
	At          int64          `json:"at"`
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}

func PoolFrom(p *stakepool.Pool) Pool {
	if p == nil {
		return Pool{}
	}
	return Pool{
		ID:                p.ID,
		Custody:           p.Custody,
		Initializer:       p.Initializer,
		TotalRewardBudget: p.TotalRewardBudget,
		DistributedReward: p.DistributedReward,
		RemainingReward:   p.RemainingReward(),
		TotalStaked:       p.TotalStaked,
		RateNumerator:     p.Rate.Numerator,
		RateDenominator:   p.Rate.Denominator,
		ActiveStakers:     p.ActiveStakers,
		InitializedAt:     unix(p.InitializedAt),
	}
}

func StakerFrom(s *stakepool.StakerAccount) Staker {
	if s == nil {
		return Staker{}
	}
	out := Staker{
		Owner:            s.Owner,
		AmountStaked:     s.AmountStaked,
		LockSeconds:      seconds(s.LockPeriod),
		AccruedUnclaimed: s.AccruedUnclaimed,
		HasPremiumAccess: s.HasPremiumAccess,
		Nonce:            s.Nonce,
		TotalClaimed:     s.TotalClaimed,
		Active:           s.Active(),
	}
	if s.Active() {
		out.StakeStartedAt = unix(s.StakeStartedAt)
		out.UnlockAt = unix(s.UnlockAt())
	}
	return out
}

func UnstakeFrom(res *stakepool.UnstakeResult) UnstakeResult {
	return UnstakeResult{
		Pool:           PoolFrom(res.Pool),
		Staker:         StakerFrom(res.Staker),
		Principal:      res.Principal,
		Reward:         res.Reward,
		Shortfall:      res.Shortfall,
		ElapsedSeconds: seconds(res.Elapsed),
	}
}

func PreviewFrom(p *stakepool.Preview) Preview {
	return Preview{
		Staker:         p.Staker,
		Principal:      p.Principal,
		Reward:         p.Reward,
		Payable:        p.Payable,
		Shortfall:      p.Shortfall,
		UnlockAt:       unix(p.UnlockAt),
		Locked:         p.Locked,
		ElapsedSeconds: seconds(p.Elapsed),
		PremiumTier:    p.PremiumTier,
	}
}

func ReceiptFrom(r stakestore.Receipt) Receipt {
	return Receipt{
		Seq:         r.Seq,
		ID:          r.ID,
		Operation:   r.Operation,
		Account:     r.Account,
		Amount:      r.Amount,
		Reward:      r.Reward,
		Shortfall:   r.Shortfall,
		LockSeconds: seconds(r.LockPeriod),
		At:          unix(r.At),
	}
}

// Store converts a wire receipt back into the persisted form.
func (r Receipt) Store() stakestore.Receipt {
	out := stakestore.Receipt{
		Seq:        r.Seq,
		ID:         r.ID,
		Operation:  r.Operation,
		Account:    r.Account,
		Amount:     r.Amount,
		Reward:     r.Reward,
		Shortfall:  r.Shortfall,
		LockPeriod: time.Duration(r.LockSeconds) * time.Second,
	}
	if r.At != 0 {
		out.At = time.Unix(r.At, 0).UTC()
	}
	return out
}
