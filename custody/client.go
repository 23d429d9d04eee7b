package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	jsonRPCVersion = "2.0"

	methodPayout  = "custody_payout"
	methodForward = "custody_forward"

	// HeaderAPIKey carries the custodian credential.
	HeaderAPIKey = "X-Api-Key"
)

// Client is a JSON-RPC client for the token custodian. It releases sale
// tokens and forwards contributed value to the treasury.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	nextID     atomic.Int64
	newKey     func() string
}

// Config represents the client configuration.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("custody: url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		newKey:     func() string { return uuid.NewString() },
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type transferResult struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference"`
}

// Payout instructs the custodian to pay amount units of token to the
// recipient.
func (c *Client) Payout(ctx context.Context, token, to [20]byte, amount *big.Int) error {
	params := map[string]string{
		"token":          common.BytesToAddress(token[:]).Hex(),
		"to":             common.BytesToAddress(to[:]).Hex(),
		"amount":         amountString(amount),
		"idempotencyKey": c.newKey(),
	}
	return c.transfer(ctx, methodPayout, params)
}

// Forward moves contributed native value from the ledger's custody to the
// treasury.
func (c *Client) Forward(ctx context.Context, treasury, from [20]byte, amount *big.Int) error {
	params := map[string]string{
		"treasury":       common.BytesToAddress(treasury[:]).Hex(),
		"from":           common.BytesToAddress(from[:]).Hex(),
		"amount":         amountString(amount),
		"idempotencyKey": c.newKey(),
	}
	return c.transfer(ctx, methodForward, params)
}

func (c *Client) transfer(ctx context.Context, method string, params map[string]string) error {
	var result transferResult
	if err := c.call(ctx, method, []interface{}{params}, &result); err != nil {
		return err
	}
	if !result.Accepted {
		return fmt.Errorf("custody: %s rejected", method)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("custody: client not configured")
	}
	id := c.nextID.Add(1)
	buf, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("custody: unexpected status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("custody: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("custody: error %d %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("custody: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
