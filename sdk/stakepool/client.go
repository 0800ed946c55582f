// Package stakepool is a Go client for the stakingd JSON-RPC API.
package stakepool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"stakepool/crypto"
	pool "stakepool/native/stakepool"
	"stakepool/services/stakingd/api"
)

// Client calls a single stakingd endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBearerToken attaches an Authorization header to every call.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a client for the daemon at baseURL (for example
// http://127.0.0.1:8547).
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	endpoint := parsed.ResolveReference(&url.URL{Path: "/rpc"})
	client := &Client{
		endpoint:   endpoint.String(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Error is a JSON-RPC failure. When the daemon reports an engine failure kind,
// errors.Is matches the corresponding native/stakepool sentinel.
type Error struct {
	Code    int
	Message string
	Kind    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("stakingd %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("stakingd %d: %s", e.Code, e.Message)
}

// Unwrap exposes the engine sentinel named by Kind, if known.
func (e *Error) Unwrap() error {
	return pool.KindByName(e.Kind)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID.Add(1)})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Middleware rejections (auth, rate limit) are plain text.
		return fmt.Errorf("stakingd %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decoded.Error != nil {
		rpcErr := &Error{Code: decoded.Error.Code, Message: decoded.Error.Message}
		if len(decoded.Error.Data) > 0 {
			var data struct {
				Kind string `json:"kind"`
			}
			if json.Unmarshal(decoded.Error.Data, &data) == nil {
				rpcErr.Kind = data.Kind
			}
		}
		return rpcErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// InitializePool submits a signed pool initialization.
func (c *Client) InitializePool(ctx context.Context, auth pool.Authorization, budget uint64) (*api.Pool, error) {
	var out api.Pool
	if err := c.call(ctx, api.MethodInitializePool, &out, api.InitializePoolParams{Budget: budget, Authorization: auth}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stake submits a signed stake for staker.
func (c *Client) Stake(ctx context.Context, auth pool.Authorization, staker crypto.Address, amount uint64, lock time.Duration) (*api.StakeResult, error) {
	params := api.StakeParams{
		Staker:        staker,
		Amount:        amount,
		LockSeconds:   uint64(lock / time.Second),
		Authorization: auth,
	}
	var out api.StakeResult
	if err := c.call(ctx, api.MethodStake, &out, params); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnstakeAndClaim submits a signed withdrawal for staker.
func (c *Client) UnstakeAndClaim(ctx context.Context, auth pool.Authorization, staker crypto.Address) (*api.UnstakeResult, error) {
	var out api.UnstakeResult
	if err := c.call(ctx, api.MethodUnstakeAndClaim, &out, api.UnstakeParams{Staker: staker, Authorization: auth}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pool fetches the pool snapshot.
func (c *Client) Pool(ctx context.Context) (*api.Pool, error) {
	var out api.Pool
	if err := c.call(ctx, api.MethodGetPool, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Staker fetches a staker account.
func (c *Client) Staker(ctx context.Context, addr crypto.Address) (*api.Staker, error) {
	var out api.Staker
	if err := c.call(ctx, api.MethodGetStaker, &out, addr.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

// NextNonce returns the nonce the staker's next authorization must carry.
// Unknown stakers start at zero.
func (c *Client) NextNonce(ctx context.Context, addr crypto.Address) (uint64, error) {
	acc, err := c.Staker(ctx, addr)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.Kind == "NotFound" {
			return 0, nil
		}
		return 0, err
	}
	return acc.Nonce, nil
}

// PreviewReward asks what a claim at would pay. A zero at means now.
func (c *Client) PreviewReward(ctx context.Context, addr crypto.Address, at time.Time) (*api.Preview, error) {
	params := api.PreviewParams{Staker: addr}
	if !at.IsZero() {
		params.At = at.Unix()
	}
	var out api.Preview
	if err := c.call(ctx, api.MethodPreviewReward, &out, params); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance reads a ledger balance.
func (c *Client) Balance(ctx context.Context, addr crypto.Address) (uint64, error) {
	var out api.Balance
	if err := c.call(ctx, api.MethodGetBalance, &out, addr.String()); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Receipts pages through the receipt log starting at sequence from.
func (c *Client) Receipts(ctx context.Context, from uint64, limit int) ([]api.Receipt, error) {
	var out []api.Receipt
	if err := c.call(ctx, api.MethodListReceipts, &out, api.ReceiptsParams{From: from, Limit: limit}); err != nil {
		return nil, err
	}
	return out, nil
}

// AllReceipts walks every page of the receipt log.
func (c *Client) AllReceipts(ctx context.Context, pageSize int) ([]api.Receipt, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var (
		out  []api.Receipt
		from uint64
	)
	for {
		page, err := c.Receipts(ctx, from, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		from = page[len(page)-1].Seq + 1
	}
}
