package stakepool

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/holiman/uint256"
)

// Rate is the reward paid per staked token per second, expressed as the
// fraction Numerator/Denominator.
type Rate struct {
	Numerator   uint64
	Denominator uint64
}

// Valid reports whether the rate can be used for accrual.
func (r Rate) Valid() bool {
	return r.Denominator > 0
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

// RateForPeriod returns the rate at which a stake accrues a reward equal to
// its principal once every period.
func RateForPeriod(period time.Duration) (Rate, error) {
	seconds := uint64(period / time.Second)
	if period <= 0 || seconds == 0 {
		return Rate{}, fmt.Errorf("%w: reward period must be at least one second", ErrInvalidLockPeriod)
	}
	return Rate{Numerator: 1, Denominator: seconds}, nil
}

// RateForHorizon spreads budget across horizon, assuming expectedStake tokens
// stay staked for the whole horizon.
func RateForHorizon(budget, expectedStake uint64, horizon time.Duration) (Rate, error) {
	seconds := uint64(horizon / time.Second)
	if expectedStake == 0 {
		return Rate{}, fmt.Errorf("%w: expected stake must be positive", ErrInvalidAmount)
	}
	if horizon <= 0 || seconds == 0 {
		return Rate{}, fmt.Errorf("%w: distribution horizon must be at least one second", ErrInvalidLockPeriod)
	}
	hi, denom := bits.Mul64(expectedStake, seconds)
	if hi != 0 {
		return Rate{}, ErrArithmeticOverflow
	}
	return Rate{Numerator: budget, Denominator: denom}, nil
}

// ComputeReward returns floor(amount * elapsedSeconds * rate). The product is
// formed in 256 bits so it cannot overflow; only the final narrowing to 64
// bits can fail.
func ComputeReward(amount uint64, elapsed time.Duration, rate Rate) (uint64, error) {
	if !rate.Valid() {
		return 0, fmt.Errorf("%w: zero rate denominator", ErrArithmeticOverflow)
	}
	if elapsed <= 0 || amount == 0 || rate.Numerator == 0 {
		return 0, nil
	}
	seconds := uint64(elapsed / time.Second)

	reward := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(seconds))
	reward.Mul(reward, uint256.NewInt(rate.Numerator))
	reward.Div(reward, uint256.NewInt(rate.Denominator))
	if !reward.IsUint64() {
		return 0, ErrRewardOverflow
	}
	return reward.Uint64(), nil
}

// capReward limits reward to what remains in the budget and reports the
// unpaid difference.
func capReward(reward, remaining uint64) (paid, shortfall uint64) {
	if reward <= remaining {
		return reward, 0
	}
	return remaining, reward - remaining
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func subChecked(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}
