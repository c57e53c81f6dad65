package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/stxbot/internal/bot"
	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/server/handler"
)

var testLogger = slog.New(slog.DiscardHandler)

type idleStatus struct{}

func (idleStatus) Status() bot.ControllerStatus { return bot.ControllerStatus{Phase: bot.PhaseIdle} }

type emptyCatalog struct{}

func (emptyCatalog) Markets() []domain.Market         { return nil }
func (emptyCatalog) Get(string) (domain.Market, bool) { return domain.Market{}, false }

func testServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	h := NewHandler(Config{APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(nil),
		Status:  handler.NewStatusHandler(idleStatus{}),
		Markets: handler.NewMarketHandler(emptyCatalog{}),
	}, testLogger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	srv := testServer(t, "k")

	tests := []struct {
		path string
		key  string
		want int
	}{
		{"/api/health", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
		{"/api/status", "", http.StatusUnauthorized},
		{"/api/status", "k", http.StatusOK},
		{"/api/markets", "k", http.StatusOK},
		{"/api/markets/m1", "k", http.StatusNotFound},
		// Optional routes are absent without their handlers.
		{"/api/runs/run-1", "k", http.StatusNotFound},
		{"/ws", "k", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(strings.TrimPrefix(tt.path, "/")+"/"+tt.key, func(t *testing.T) {
			if got := get(t, srv.URL+tt.path, tt.key).StatusCode; got != tt.want {
				t.Fatalf("GET %s = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestRoutesWithoutKey(t *testing.T) {
	srv := testServer(t, "")
	if got := get(t, srv.URL+"/api/status", "").StatusCode; got != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := testServer(t, "")
	resp, err := http.Post(srv.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", resp.StatusCode)
	}
}
