// Package stx is the client for the STX exchange: a GraphQL-over-HTTP API
// for account and order operations, and a Phoenix channel stream for live
// market data.
package stx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

const (
	graphQLPath    = "/graphiql"
	defaultTimeout = 30 * time.Second

	// twoFactorMarker appears in the login message when the account must
	// confirm a 2FA code before the token is usable.
	twoFactorMarker = "confirm2Fa"
)

// Client is the GraphQL client for the STX API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	limitKey   string
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter gates order mutations through limiter under key.
func WithRateLimiter(limiter domain.RateLimiter, key string) Option {
	return func(c *Client) {
		c.limiter = limiter
		c.limitKey = key
	}
}

// WithLogger sets the logger used for limiter failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new STX client.
//
// baseURL is the API root, e.g. "https://api-staging.on.sportsxapp.com".
// A zero timeout selects 30s.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token of the current session, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login authenticates with email and password. When the account has 2FA
// enabled the result has TwoFactorRequired set and Confirm2FA must follow.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var data struct {
		Login *APILoginResult `json:"login"`
	}
	vars := map[string]any{
		"credentials": map[string]any{"email": email, "password": password},
	}
	if err := c.do(ctx, "login", loginMutation, vars, &data); err != nil {
		return LoginResult{}, fmt.Errorf("stx: login: %w: %w", domain.ErrAuthenticationFailed, err)
	}
	if data.Login == nil {
		return LoginResult{}, fmt.Errorf("stx: login: %w: empty response", domain.ErrAuthenticationFailed)
	}

	res := LoginResult{
		Token:     data.Login.Token,
		UserID:    data.Login.UserID,
		SessionID: data.Login.SessionID,
	}
	if data.Login.PromptTwoFactorAuth {
		res.TwoFactorRequired = true
		res.Message = "Please call " + twoFactorMarker + " with the emailed code"
	}
	if res.Token != "" {
		c.setToken(res.Token)
	}
	if res.Token == "" && !res.TwoFactorRequired {
		return LoginResult{}, fmt.Errorf("stx: login: %w: no token issued", domain.ErrAuthenticationFailed)
	}
	return res, nil
}

// Confirm2FA completes a login that required two-factor confirmation.
func (c *Client) Confirm2FA(ctx context.Context, code string) (LoginResult, error) {
	var data struct {
		Confirm2Fa *APILoginResult `json:"confirm2Fa"`
	}
	if err := c.do(ctx, "confirm2Fa", confirm2FAMutation, map[string]any{"code": code}, &data); err != nil {
		return LoginResult{}, fmt.Errorf("stx: confirm 2fa: %w: %w", domain.ErrAuthenticationFailed, err)
	}
	if data.Confirm2Fa == nil || data.Confirm2Fa.Token == "" {
		return LoginResult{}, fmt.Errorf("stx: confirm 2fa: %w: no token issued", domain.ErrAuthenticationFailed)
	}

	c.setToken(data.Confirm2Fa.Token)
	return LoginResult{
		Token:     data.Confirm2Fa.Token,
		UserID:    data.Confirm2Fa.UserID,
		SessionID: data.Confirm2Fa.SessionID,
	}, nil
}

// Logout ends the current session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, "logout", logoutMutation, nil, nil); err != nil {
		return fmt.Errorf("stx: logout: %w", err)
	}
	c.setToken("")
	return nil
}

// MarketInfos returns every market currently listed.
func (c *Client) MarketInfos(ctx context.Context) ([]domain.Market, error) {
	var data struct {
		MarketInfos []APIMarket `json:"marketInfos"`
	}
	if err := c.do(ctx, "marketInfos", marketInfosQuery, nil, &data); err != nil {
		return nil, fmt.Errorf("stx: market infos: %w", err)
	}

	markets := make([]domain.Market, 0, len(data.MarketInfos))
	for _, m := range data.MarketInfos {
		markets = append(markets, m.ToDomain())
	}
	return markets, nil
}

// ConfirmOrder places an order and returns the exchange's record of it.
func (c *Client) ConfirmOrder(ctx context.Context, order domain.UserOrder) (domain.Order, error) {
	if err := c.wait(ctx, "confirmOrder"); err != nil {
		return domain.Order{}, fmt.Errorf("stx: confirm order: %w", err)
	}

	var data struct {
		ConfirmOrder *struct {
			Errors []string  `json:"errors"`
			Order  *APIOrder `json:"order"`
		} `json:"confirmOrder"`
	}
	vars := map[string]any{"userOrder": fromUserOrder(order)}
	if err := c.do(ctx, "confirmOrder", confirmOrderMutation, vars, &data); err != nil {
		return domain.Order{}, fmt.Errorf("stx: confirm order: %w", err)
	}

	res := data.ConfirmOrder
	if res == nil {
		return domain.Order{}, fmt.Errorf("stx: confirm order: empty response")
	}
	if len(res.Errors) > 0 {
		return domain.Order{}, fmt.Errorf("stx: confirm order rejected: %s", strings.Join(res.Errors, "; "))
	}
	if res.Order == nil {
		return domain.Order{}, fmt.Errorf("stx: confirm order: response has no order")
	}
	return res.Order.ToDomain(), nil
}

// CancelOrder cancels an order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.wait(ctx, "cancelOrder"); err != nil {
		return fmt.Errorf("stx: cancel order %s: %w", orderID, err)
	}

	var data struct {
		CancelOrder *struct {
			Status string `json:"status"`
		} `json:"cancelOrder"`
	}
	if err := c.do(ctx, "cancelOrder", cancelOrderMutation, map[string]any{"orderId": orderID}, &data); err != nil {
		return fmt.Errorf("stx: cancel order %s: %w", orderID, err)
	}
	if data.CancelOrder == nil {
		return fmt.Errorf("stx: cancel order %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

// UserProfile returns the authenticated account's profile.
func (c *Client) UserProfile(ctx context.Context) (UserProfile, error) {
	var data struct {
		UserProfile UserProfile `json:"userProfile"`
	}
	if err := c.do(ctx, "userProfile", userProfileQuery, nil, &data); err != nil {
		return UserProfile{}, fmt.Errorf("stx: user profile: %w", err)
	}
	return data.UserProfile, nil
}

// MyOrderHistory returns a page of the account's orders, newest first.
func (c *Client) MyOrderHistory(ctx context.Context, limit, offset int) (OrderHistory, error) {
	var data struct {
		MyOrderHistory struct {
			TotalCount int        `json:"totalCount"`
			Orders     []APIOrder `json:"orders"`
		} `json:"myOrderHistory"`
	}
	vars := map[string]any{"limit": limit, "offset": offset}
	if err := c.do(ctx, "myOrderHistory", myOrderHistoryQuery, vars, &data); err != nil {
		return OrderHistory{}, fmt.Errorf("stx: order history: %w", err)
	}

	out := OrderHistory{
		TotalCount: data.MyOrderHistory.TotalCount,
		Orders:     make([]domain.Order, 0, len(data.MyOrderHistory.Orders)),
	}
	for _, o := range data.MyOrderHistory.Orders {
		out.Orders = append(out.Orders, o.ToDomain())
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// wait blocks on the order limiter. Only the caller's context stops the request;
// a limiter backend failure is logged and the request goes out unthrottled.
func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	err := c.limiter.Wait(ctx, c.limitKey)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	c.logger.WarnContext(ctx, "rate limiter unavailable, sending unthrottled",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return nil
}

// do sends one GraphQL operation and decodes its data into out (which may be
// nil).
func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordAPIRequest(op, time.Since(start), err) }()

	payload, err := json.Marshal(graphQLRequest{OperationName: op, Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+graphQLPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		apiErr := &APIError{Operation: op, Errors: envelope.Errors}
		if isUnauthorized(envelope.Errors) {
			return fmt.Errorf("%w: %w", domain.ErrUnauthorized, apiErr)
		}
		return apiErr
	}

	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", op, err)
	}
	return nil
}

func isUnauthorized(errs []GraphQLError) bool {
	for _, e := range errs {
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "unauthenticated") {
			return true
		}
	}
	return false
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// IsAPIError reports whether err carries GraphQL errors from the exchange.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
