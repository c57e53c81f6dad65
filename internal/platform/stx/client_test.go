package stx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

// fakeAPI is a scripted GraphQL endpoint keyed by operation name.
type fakeAPI struct {
	t *testing.T

	mu       sync.Mutex
	requests []graphQLRequest
	auth     []string
	handlers map[string]func(vars map[string]any) (status int, body string)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, handlers: make(map[string]func(map[string]any) (int, string))}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) on(op string, h func(vars map[string]any) (int, string)) {
	f.handlers[op] = h
}

func (f *fakeAPI) reply(op, body string) {
	f.on(op, func(map[string]any) (int, string) { return http.StatusOK, body })
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != graphQLPath {
		http.NotFound(w, r)
		return
	}
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	h, ok := f.handlers[req.OperationName]
	f.mu.Unlock()

	if !ok {
		f.t.Errorf("unexpected operation %q", req.OperationName)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	status, body := h(req.Variables)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) last() (graphQLRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests) - 1
	return f.requests[n], f.auth[n]
}

func TestLoginStoresToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("login", `{"data":{"login":{"token":"tok-1","userId":"u-1","sessionId":"s-1"}}}`)
	api.reply("userProfile", `{"data":{"userProfile":{"id":"u-1","username":"alice"}}}`)

	c := NewClient(srv.URL, time.Second)
	res, err := c.Login(context.Background(), "a@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "tok-1" || res.UserID != "u-1" || res.TwoFactorRequired {
		t.Fatalf("result = %+v", res)
	}

	req, auth := api.last()
	creds, _ := req.Variables["credentials"].(map[string]any)
	if creds["email"] != "a@example.com" || creds["password"] != "secret" {
		t.Fatalf("credentials = %v", req.Variables)
	}
	if auth != "" {
		t.Fatalf("login sent Authorization %q", auth)
	}

	profile, err := c.UserProfile(context.Background())
	if err != nil {
		t.Fatalf("UserProfile: %v", err)
	}
	if profile.Username != "alice" {
		t.Fatalf("profile = %+v", profile)
	}
	if _, auth := api.last(); auth != "Bearer tok-1" {
		t.Fatalf("Authorization = %q, want Bearer tok-1", auth)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"graphql error", http.StatusOK, `{"errors":[{"message":"invalid credentials"}]}`},
		{"no token", http.StatusOK, `{"data":{"login":{"token":""}}}`},
		{"null login", http.StatusOK, `{"data":{"login":null}}`},
		{"http error", http.StatusInternalServerError, `boom`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.on("login", func(map[string]any) (int, string) { return tt.status, tt.body })

			_, err := NewClient(srv.URL, time.Second).Login(context.Background(), "a@example.com", "x")
			if !errors.Is(err, domain.ErrAuthenticationFailed) {
				t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestAuthenticatorTwoFactor(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("login", `{"data":{"login":{"promptTwoFactorAuth":true}}}`)
	api.reply("confirm2Fa", `{"data":{"confirm2Fa":{"token":"tok-2","userId":"u-2"}}}`)

	c := NewClient(srv.URL, time.Second)
	prompt := func(context.Context) (string, error) { return "123456", nil }
	a := NewAuthenticator(c, Credentials{Email: "a@example.com", Password: "x"}, prompt, testLogger)

	if err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if req, _ := api.last(); req.Variables["code"] != "123456" {
		t.Fatalf("code = %v, want 123456", req.Variables["code"])
	}
	if c.Token() != "tok-2" || a.UserID() != "u-2" {
		t.Fatalf("token = %q, user = %q", c.Token(), a.UserID())
	}
}

func TestAuthenticatorTwoFactorWithoutCode(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("login", `{"data":{"login":{"promptTwoFactorAuth":true}}}`)

	a := NewAuthenticator(NewClient(srv.URL, time.Second),
		Credentials{Email: "a@example.com", Password: "x"}, nil, testLogger)

	if err := a.Authenticate(context.Background()); !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestAuthenticatorMissingCredentials(t *testing.T) {
	a := NewAuthenticator(NewClient("http://127.0.0.1:1", time.Second), Credentials{}, nil, testLogger)
	if err := a.Authenticate(context.Background()); !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestMarketInfos(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("marketInfos", `{"data":{"marketInfos":[
		{"marketId":"m1","title":"Team A wins","shortTitle":"A","status":"OPEN","probability":0.6,
		 "price":3200,"maxPrice":10000,"bids":[{"price":4800,"quantity":2},{"price":5000,"quantity":1}],"offers":[]},
		{"marketId":"m2","title":"Team B wins","probability":0,"price":null,"bids":null}
	]}}`)

	markets, err := NewClient(srv.URL, time.Second).MarketInfos(context.Background())
	if err != nil {
		t.Fatalf("MarketInfos: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}

	m1 := markets[0]
	if m1.ID != "m1" || m1.Status != domain.MarketStatusOpen || m1.Price != 3200 {
		t.Fatalf("m1 = %+v", m1)
	}
	if bid, ok := m1.MaxBidPrice(); !ok || bid != 5000 {
		t.Fatalf("max bid = %d, %v; want 5000", bid, ok)
	}
	if !m1.Eligible() {
		t.Fatal("m1 should be eligible")
	}
	if markets[1].Eligible() {
		t.Fatal("m2 should not be eligible")
	}
}

func TestConfirmOrder(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("confirmOrder", `{"data":{"confirmOrder":{"errors":[],"order":{
		"id":"ord-9","marketId":"m1","orderType":"LIMIT","action":"BUY",
		"price":3300,"quantity":5,"status":"OPEN","insertedAt":"2026-10-18T09:30:00Z"}}}}`)

	got, err := NewClient(srv.URL, time.Second).ConfirmOrder(context.Background(), domain.UserOrder{
		MarketID: "m1",
		Type:     domain.OrderTypeLimit,
		Action:   domain.OrderActionBuy,
		Quantity: 5,
		Price:    3300,
	})
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if got.ID != "ord-9" || got.Price != 3300 || got.Status != domain.OrderStatusOpen {
		t.Fatalf("order = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("insertedAt not parsed")
	}

	req, _ := api.last()
	order, _ := req.Variables["userOrder"].(map[string]any)
	// JSON numbers decode as float64.
	if order["marketId"] != "m1" || order["orderType"] != "LIMIT" || order["action"] != "BUY" ||
		order["price"] != float64(3300) || order["quantity"] != float64(5) {
		t.Fatalf("userOrder = %v", order)
	}
}

func TestConfirmOrderMarketOmitsPrice(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("confirmOrder", `{"data":{"confirmOrder":{"order":{"id":"ord-1"}}}}`)

	_, err := NewClient(srv.URL, time.Second).ConfirmOrder(context.Background(), domain.UserOrder{
		MarketID: "m1", Type: domain.OrderTypeMarket, Action: domain.OrderActionBuy, Quantity: 1, Price: 99,
	})
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	req, _ := api.last()
	order, _ := req.Variables["userOrder"].(map[string]any)
	if _, ok := order["price"]; ok {
		t.Fatalf("MARKET order sent a price: %v", order)
	}
}

func TestConfirmOrderRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"order errors", `{"data":{"confirmOrder":{"errors":["insufficient balance"],"order":null}}}`},
		{"no order", `{"data":{"confirmOrder":{"errors":[]}}}`},
		{"empty", `{"data":{"confirmOrder":null}}`},
		{"graphql error", `{"errors":[{"message":"market closed"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.reply("confirmOrder", tt.body)

			_, err := NewClient(srv.URL, time.Second).ConfirmOrder(context.Background(), domain.UserOrder{MarketID: "m1"})
			if err == nil {
				t.Fatal("ConfirmOrder succeeded, want error")
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("cancelOrder", `{"data":{"cancelOrder":{"status":"CANCELLED"}}}`)

	if err := NewClient(srv.URL, time.Second).CancelOrder(context.Background(), "ord-9"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if req, _ := api.last(); req.Variables["orderId"] != "ord-9" {
		t.Fatalf("orderId = %v, want ord-9", req.Variables["orderId"])
	}
}

func TestDoMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized status", http.StatusUnauthorized, `nope`, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `slow down`, domain.ErrRateLimited},
		{"not found", http.StatusNotFound, ``, domain.ErrNotFound},
		{"unauthorized graphql", http.StatusOK, `{"errors":[{"message":"Unauthorized"}]}`, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.on("marketInfos", func(map[string]any) (int, string) { return tt.status, tt.body })

			_, err := NewClient(srv.URL, time.Second).MarketInfos(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDoReturnsAPIError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("marketInfos", `{"errors":[{"message":"internal"},{"message":"retry later"}]}`)

	_, err := NewClient(srv.URL, time.Second).MarketInfos(context.Background())
	if !IsAPIError(err) {
		t.Fatalf("err = %v, want APIError", err)
	}
	var apiErr *APIError
	errors.As(err, &apiErr)
	if apiErr.Operation != "marketInfos" || len(apiErr.Errors) != 2 {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.err
}

func TestOrderMutationsAreRateLimited(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("cancelOrder", `{"data":{"cancelOrder":{"status":"CANCELLED"}}}`)
	api.reply("marketInfos", `{"data":{"marketInfos":[]}}`)

	limiter := &countingLimiter{}
	c := NewClient(srv.URL, time.Second, WithRateLimiter(limiter, "stx:a@example.com"), WithLogger(testLogger))

	if err := c.CancelOrder(context.Background(), "ord-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, err := c.MarketInfos(context.Background()); err != nil {
		t.Fatalf("MarketInfos: %v", err)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "stx:a@example.com" {
		t.Fatalf("limiter keys = %v, want one order mutation", limiter.keys)
	}

	// A limiter failure does not hold the cancel back.
	limiter.err = errors.New("redis: i/o timeout")
	if err := c.CancelOrder(context.Background(), "ord-2"); err != nil {
		t.Fatalf("CancelOrder with failing limiter: %v", err)
	}
	api.mu.Lock()
	last := api.requests[len(api.requests)-1]
	api.mu.Unlock()
	if last.OperationName != "cancelOrder" || last.Variables["orderId"] != "ord-2" {
		t.Fatalf("last request = %+v, want cancel of ord-2", last)
	}

	// A cancelled caller context still stops the request.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limiter.err = context.Canceled
	if err := c.CancelOrder(ctx, "ord-3"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCancelSentWhenLimiterFails(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.reply("cancelOrder", `{"data":{"cancelOrder":{"status":"CANCELLED"}}}`)

	limiter := &countingLimiter{err: errors.New("dial tcp: connection refused")}
	c := NewClient(srv.URL, time.Second, WithRateLimiter(limiter, "stx:a@example.com"), WithLogger(testLogger))

	if err := c.CancelOrder(context.Background(), "ord-1"); err != nil {
		t.Fatalf("CancelOrder with limiter down: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 1 || api.requests[0].OperationName != "cancelOrder" {
		t.Fatalf("requests = %+v, want the cancel to reach the exchange", api.requests)
	}
	if api.requests[0].Variables["orderId"] != "ord-1" {
		t.Fatalf("variables = %v", api.requests[0].Variables)
	}
}
