package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testLogger = slog.New(slog.DiscardHandler)

type chanBus struct {
	subs map[string]chan []byte
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.subs[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch, ok := b.subs[channel]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubSendsStatusOnConnect(t *testing.T) {
	h := NewHub(&chanBus{}, nil, func() any { return map[string]string{"phase": "idle"} }, testLogger)
	conn := dial(t, h)

	env := readEnvelope(t, conn)
	if env.Type != "bot_status" {
		t.Fatalf("type = %q, want bot_status", env.Type)
	}
	var status map[string]string
	if err := json.Unmarshal(env.Payload, &status); err != nil || status["phase"] != "idle" {
		t.Fatalf("payload = %s", env.Payload)
	}
}

func TestHubBroadcastAndUnsubscribe(t *testing.T) {
	h := NewHub(&chanBus{}, nil, nil, testLogger)
	conn := dial(t, h)
	waitClients(t, h, 1)

	h.Broadcast("stxbot:orders", []byte(`{"type":"order_placed"}`))
	env := readEnvelope(t, conn)
	if env.Type != "event" || env.Channel != "stxbot:orders" || string(env.Payload) != `{"type":"order_placed"}` {
		t.Fatalf("envelope = %+v", env)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"stxbot:orders"}}); err != nil {
		t.Fatal(err)
	}
	// Poll until the read pump has applied the unsubscribe.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var muted bool
		h.mu.RLock()
		for c := range h.clients {
			muted = !c.isSubscribed("stxbot:orders")
		}
		h.mu.RUnlock()
		if muted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("unsubscribe not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.Broadcast("stxbot:orders", []byte(`{"type":"ignored"}`))
	h.Broadcast("stxbot:runs", []byte(`{"type":"run_finished"}`))
	if env := readEnvelope(t, conn); env.Channel != "stxbot:runs" {
		t.Fatalf("received %+v after unsubscribe", env)
	}
}

func TestHubRunRelaysBus(t *testing.T) {
	bus := &chanBus{subs: map[string]chan []byte{"stxbot:runs": make(chan []byte, 1)}}
	h := NewHub(bus, []string{"stxbot:runs", "stxbot:missing"}, nil, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	conn := dial(t, h)
	waitClients(t, h, 1)

	if err := bus.Publish(ctx, "stxbot:runs", []byte(`{"type":"run_started"}`)); err != nil {
		t.Fatal(err)
	}
	env := readEnvelope(t, conn)
	if env.Channel != "stxbot:runs" || string(env.Payload) != `{"type":"run_started"}` {
		t.Fatalf("envelope = %+v", env)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("clients = %d after shutdown", h.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}
