package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"stakepool/crypto"
	"stakepool/services/stakingd/api"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest) int

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) int {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
	return code
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
	return 0
}

func writeFailure(w http.ResponseWriter, id interface{}, err error) int {
	f := classify(err)
	return writeError(w, f.status, id, f.code, f.message, f.data)
}

func (h *Handler) methods() map[string]rpcHandler {
	return map[string]rpcHandler{
		api.MethodInitializePool:  h.handleInitializePool,
		api.MethodStake:           h.handleStake,
		api.MethodUnstakeAndClaim: h.handleUnstakeAndClaim,
		api.MethodGetPool:         h.handleGetPool,
		api.MethodGetStaker:       h.handleGetStaker,
		api.MethodPreviewReward:   h.handlePreviewReward,
		api.MethodGetBalance:      h.handleGetBalance,
		api.MethodListReceipts:    h.handleListReceipts,
	}
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		h.metrics.RecordRPC("", writeError(w, status, nil, codeInvalidRequest, message, err.Error()))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.metrics.RecordRPC("", writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil))
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		h.metrics.RecordRPC("", writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		h.metrics.RecordRPC(req.Method, writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}
	if req.Method == "" {
		h.metrics.RecordRPC("", writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil))
		return
	}
	handler, ok := h.rpc[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		h.metrics.RecordRPC("unknown", codeMethodNotFound)
		return
	}
	h.metrics.RecordRPC(req.Method, handler(w, r, req))
}

// decodeParams expects exactly one parameter object.
func decodeParams(w http.ResponseWriter, req *RPCRequest, dst interface{}) (int, bool) {
	if len(req.Params) != 1 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil), false
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error()), false
	}
	return 0, true
}

// decodeAddress expects exactly one address string.
func decodeAddress(w http.ResponseWriter, req *RPCRequest) (crypto.Address, int, bool) {
	if len(req.Params) != 1 {
		return crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", nil), false
	}
	var raw string
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		return crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address must be a string", err.Error()), false
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return crypto.Address{}, writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error()), false
	}
	return addr, 0, true
}

func (h *Handler) handleInitializePool(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params api.InitializePoolParams
	if code, ok := decodeParams(w, req, &params); !ok {
		return code
	}
	res, err := h.service.InitializePool(r.Context(), params.Authorization, params.Budget)
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.PoolFrom(res.Pool))
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params api.StakeParams
	if code, ok := decodeParams(w, req, &params); !ok {
		return code
	}
	if params.LockSeconds > math.MaxInt64/uint64(time.Second) {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "lockSeconds out of range", nil)
	}
	lock := time.Duration(params.LockSeconds) * time.Second
	res, err := h.service.Stake(r.Context(), params.Authorization, params.Staker, params.Amount, lock)
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.StakeResult{Pool: api.PoolFrom(res.Pool), Staker: api.StakerFrom(res.Staker)})
}

func (h *Handler) handleUnstakeAndClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params api.UnstakeParams
	if code, ok := decodeParams(w, req, &params); !ok {
		return code
	}
	res, err := h.service.UnstakeAndClaim(r.Context(), params.Authorization, params.Staker)
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.UnstakeFrom(res))
}

func (h *Handler) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	if len(req.Params) != 0 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
	}
	pool, err := h.service.Pool()
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.PoolFrom(pool))
}

func (h *Handler) handleGetStaker(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	addr, code, ok := decodeAddress(w, req)
	if !ok {
		return code
	}
	acc, err := h.service.Staker(addr)
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.StakerFrom(acc))
}

func (h *Handler) handlePreviewReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params api.PreviewParams
	if code, ok := decodeParams(w, req, &params); !ok {
		return code
	}
	if params.At < 0 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "at must not be negative", nil)
	}
	var at time.Time
	if params.At > 0 {
		at = time.Unix(params.At, 0).UTC()
	}
	preview, err := h.service.PreviewReward(params.Staker, at)
	if err != nil {
		return writeFailure(w, req.ID, err)
	}
	return writeResult(w, req.ID, api.PreviewFrom(preview))
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	addr, code, ok := decodeAddress(w, req)
	if !ok {
		return code
	}
	balance, err := h.service.Balance(r.Context(), addr)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read balance", err.Error())
	}
	return writeResult(w, req.ID, api.Balance{Address: addr, Balance: balance})
}

func (h *Handler) handleListReceipts(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	var params api.ReceiptsParams
	if len(req.Params) > 0 {
		if code, ok := decodeParams(w, req, &params); !ok {
			return code
		}
	}
	if params.Limit < 0 {
		return writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "limit must not be negative", nil)
	}
	receipts, err := h.service.Receipts(params.From, params.Limit)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list receipts", err.Error())
	}
	out := make([]api.Receipt, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, api.ReceiptFrom(receipt))
	}
	return writeResult(w, req.ID, out)
}
