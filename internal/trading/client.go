// Package trading wraps the remote trading API: auth, orders, wallet, and
// the tradable-symbol list. All authenticated calls carry the bearer token
// obtained from Login or Register.
package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned when an authenticated call is made without
// a valid session token.
var ErrNotAuthenticated = fmt.Errorf("no authentication token")

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	token     string
	email     string
	expiresAt time.Time
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Register creates an account and stores the returned session token.
func (c *Client) Register(ctx context.Context, email, password, confirmPassword string) (*AuthResult, error) {
	body := map[string]string{
		"email":           email,
		"password":        password,
		"confirmPassword": confirmPassword,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &result, false); err != nil {
		return nil, err
	}
	c.storeSession(result)
	return &result, nil
}

// Login authenticates and stores the returned session token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &result, false); err != nil {
		return nil, err
	}
	c.storeSession(result)
	return &result, nil
}

// Logout discards the stored session.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.email = ""
	c.expiresAt = time.Time{}
}

// Email returns the email of the logged-in account.
func (c *Client) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email
}

// IsAuthenticated reports whether an unexpired session token is held.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && time.Now().Before(c.expiresAt)
}

// Buy places a buy order.
func (c *Client) Buy(ctx context.Context, req OrderRequest) (*TradeResult, error) {
	var result TradeResult
	if err := c.do(ctx, http.MethodPost, "/trading/buy", req, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// Sell places a sell order.
func (c *Client) Sell(ctx context.Context, req OrderRequest) (*TradeResult, error) {
	var result TradeResult
	if err := c.do(ctx, http.MethodPost, "/trading/sell", req, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// Wallet fetches the portfolio.
func (c *Client) Wallet(ctx context.Context) (*Portfolio, error) {
	var result Portfolio
	if err := c.do(ctx, http.MethodGet, "/trading/wallet", nil, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// Orders fetches a page of order history.
func (c *Client) Orders(ctx context.Context, pageNumber, pageSize int) ([]Order, error) {
	path := fmt.Sprintf("/trading/orders?pageNumber=%d&pageSize=%d", pageNumber, pageSize)
	var result []Order
	if err := c.do(ctx, http.MethodGet, path, nil, &result, true); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingOrders fetches currently resting orders.
func (c *Client) PendingOrders(ctx context.Context) ([]Order, error) {
	var result []Order
	if err := c.do(ctx, http.MethodGet, "/trading/pending-orders", nil, &result, true); err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel cancels a resting order by ID.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	path := "/trading/cancel/" + url.PathEscape(orderID)
	return c.do(ctx, http.MethodPost, path, nil, nil, true)
}

// Symbols fetches the tradable-symbol list. Unlike the trading endpoints the
// response is a bare array, not the message/data envelope.
func (c *Client) Symbols(ctx context.Context) ([]SymbolInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/price/symbols", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("symbols request failed: %s", body)
	}

	var symbols []SymbolInfo
	if err := json.NewDecoder(resp.Body).Decode(&symbols); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}
	return symbols, nil
}

func (c *Client) storeSession(result AuthResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = result.Token
	c.email = result.Email
	c.expiresAt = result.ExpiresAt
}

// do executes one API call and decodes the `data` field of the response
// envelope into out. Non-2xx responses are surfaced as errors carrying the
// server's message.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var token string
	if authed {
		c.mu.Lock()
		token = c.token
		expired := c.token == "" || !time.Now().Before(c.expiresAt)
		c.mu.Unlock()
		if expired {
			return ErrNotAuthenticated
		}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env struct {
		envelope
		Data json.RawMessage `json:"data"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		c.logger.Warn("trading API call failed",
			zap.String("method", method), zap.String("path", path), zap.String("message", msg))
		return fmt.Errorf("%s %s: %s", method, path, msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
