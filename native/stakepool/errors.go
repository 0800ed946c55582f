package stakepool

import (
	"errors"
	"fmt"
	"strings"

	"stakepool/crypto"
)

var (
	ErrAlreadyInitialized    = errors.New("stakepool: pool already initialized")
	ErrInsufficientBalance   = errors.New("stakepool: insufficient balance")
	ErrAlreadyStaked         = errors.New("stakepool: stake already active")
	ErrStillLocked           = errors.New("stakepool: stake still locked")
	ErrRewardBudgetExhausted = errors.New("stakepool: reward budget exhausted")
	ErrTransferFailed        = errors.New("stakepool: ledger transfer failed")
	ErrNotFound              = errors.New("stakepool: active stake not found")

	ErrPoolNotInitialized  = errors.New("stakepool: pool not initialized")
	ErrInvalidAmount       = errors.New("stakepool: amount must be positive")
	ErrInvalidLockPeriod   = errors.New("stakepool: invalid lock period")
	ErrUnauthorized        = errors.New("stakepool: unauthorized")
	ErrPaused              = errors.New("stakepool: staking paused")
	ErrRewardOverflow      = errors.New("stakepool: reward overflows 64 bits")
	ErrArithmeticOverflow  = errors.New("stakepool: arithmetic overflow")
	ErrLedgerNotConfigured = errors.New("stakepool: ledger not configured")
)

// OpError describes a failed engine operation. Kind is one of the package
// sentinels; Cause carries the underlying error, if any.
type OpError struct {
	Op     string
	Staker crypto.Address
	Amount uint64
	State  string
	Kind   error
	Cause  error
}

func (e *OpError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("stakepool: operation failed")
	}
	fmt.Fprintf(&b, " (op=%s", e.Op)
	if !e.Staker.IsZero() {
		fmt.Fprintf(&b, " staker=%s", e.Staker)
	}
	if e.Amount > 0 {
		fmt.Fprintf(&b, " amount=%d", e.Amount)
	}
	if e.State != "" {
		fmt.Fprintf(&b, " state=%s", e.State)
	}
	b.WriteString(")")
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Kinds lists every sentinel an OpError may carry, in a stable order.
func Kinds() []error {
	return []error{
		ErrAlreadyInitialized,
		ErrInsufficientBalance,
		ErrAlreadyStaked,
		ErrStillLocked,
		ErrRewardBudgetExhausted,
		ErrTransferFailed,
		ErrNotFound,
		ErrPoolNotInitialized,
		ErrInvalidAmount,
		ErrInvalidLockPeriod,
		ErrUnauthorized,
		ErrPaused,
		ErrRewardOverflow,
		ErrArithmeticOverflow,
		ErrLedgerNotConfigured,
	}
}

// KindOf returns the sentinel classifying err, or nil if err is not an
// engine failure.
func KindOf(err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Kind != nil {
		return opErr.Kind
	}
	for _, kind := range Kinds() {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kindNames = map[error]string{
	ErrAlreadyInitialized:    "AlreadyInitialized",
	ErrInsufficientBalance:   "InsufficientBalance",
	ErrAlreadyStaked:         "AlreadyStaked",
	ErrStillLocked:           "StillLocked",
	ErrRewardBudgetExhausted: "RewardBudgetExhausted",
	ErrTransferFailed:        "TransferFailed",
	ErrNotFound:              "NotFound",
	ErrPoolNotInitialized:    "PoolNotInitialized",
	ErrInvalidAmount:         "InvalidAmount",
	ErrInvalidLockPeriod:     "InvalidLockPeriod",
	ErrUnauthorized:          "Unauthorized",
	ErrPaused:                "Paused",
	ErrRewardOverflow:        "RewardOverflow",
	ErrArithmeticOverflow:    "ArithmeticOverflow",
	ErrLedgerNotConfigured:   "LedgerNotConfigured",
}

// KindName returns the stable name of err's failure kind, or "" when err is
// not an engine failure.
func KindName(err error) string {
	return kindNames[KindOf(err)]
}

// KindByName is the inverse of KindName.
func KindByName(name string) error {
	for kind, n := range kindNames {
		if n == name {
			return kind
		}
	}
	return nil
}
