package server

import (
	"errors"
	"net/http"

	"stakepool/native/stakepool"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeHalted         = -32030
)

// Engine failure kinds map onto a contiguous, stable code range. Clients
// should key off the "kind" name in error data; the codes exist for callers
// that only look at numbers.
var kindCodes = map[error]int{
	stakepool.ErrAlreadyInitialized:    -32010,
	stakepool.ErrInsufficientBalance:   -32011,
	stakepool.ErrAlreadyStaked:         -32012,
	stakepool.ErrStillLocked:           -32013,
	stakepool.ErrRewardBudgetExhausted: -32014,
	stakepool.ErrTransferFailed:        -32015,
	stakepool.ErrNotFound:              -32016,
	stakepool.ErrPoolNotInitialized:    -32017,
	stakepool.ErrInvalidAmount:         -32018,
	stakepool.ErrInvalidLockPeriod:     -32019,
	stakepool.ErrUnauthorized:          -32020,
	stakepool.ErrPaused:                -32021,
	stakepool.ErrRewardOverflow:        -32022,
	stakepool.ErrArithmeticOverflow:    -32023,
	stakepool.ErrLedgerNotConfigured:   -32024,
}

// ErrorData is attached to every failed stake_* call that originates from
// the engine or the service.
type ErrorData struct {
	Kind string `json:"kind"`
}

type rpcFailure struct {
	status  int
	code    int
	message string
	data    interface{}
}

func classify(err error) rpcFailure {
	if errors.Is(err, ErrHalted) {
		return rpcFailure{
			status:  http.StatusServiceUnavailable,
			code:    codeHalted,
			message: err.Error(),
			data:    ErrorData{Kind: "Halted"},
		}
	}
	kind := stakepool.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		return rpcFailure{status: http.StatusInternalServerError, code: codeServerError, message: err.Error()}
	}
	return rpcFailure{
		status:  statusForKind(kind),
		code:    code,
		message: err.Error(),
		data:    ErrorData{Kind: stakepool.KindName(kind)},
	}
}

func statusForKind(kind error) int {
	switch kind {
	case stakepool.ErrUnauthorized:
		return http.StatusForbidden
	case stakepool.ErrNotFound, stakepool.ErrPoolNotInitialized:
		return http.StatusNotFound
	case stakepool.ErrPaused, stakepool.ErrLedgerNotConfigured:
		return http.StatusServiceUnavailable
	case stakepool.ErrTransferFailed:
		return http.StatusBadGateway
	case stakepool.ErrAlreadyInitialized, stakepool.ErrAlreadyStaked, stakepool.ErrStillLocked, stakepool.ErrRewardBudgetExhausted:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// CodeForKind exposes the numeric code assigned to an engine kind.
func CodeForKind(kind error) (int, bool) {
	code, ok := kindCodes[kind]
	return code, ok
}
