package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

func TestOrderManagerCreate(t *testing.T) {
	api := &fakeOrderAPI{}
	obs := &recordingObserver{}
	m := NewOrderManager(api, testLogger, obs)

	o, err := m.Create(context.Background(), "m1", 5, 3300)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.ID != "ord-1" || o.Price != 3300 || o.Quantity != 5 {
		t.Fatalf("order = %+v", o)
	}

	req := api.confirmed[0]
	if req.Type != domain.OrderTypeLimit || req.Action != domain.OrderActionBuy {
		t.Fatalf("request = %+v, want LIMIT BUY", req)
	}
	if cur, held := m.Current(); !held || cur.ID != "ord-1" {
		t.Fatalf("Current = %+v, %v", cur, held)
	}
	if len(obs.placed) != 1 {
		t.Fatalf("observer saw %d placements, want 1", len(obs.placed))
	}
}

func TestOrderManagerCreateWhileHeld(t *testing.T) {
	api := &fakeOrderAPI{}
	m := NewOrderManager(api, testLogger)

	if _, err := m.Create(context.Background(), "m1", 1, 100); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := m.Create(context.Background(), "m1", 1, 200)
	if !errors.Is(err, domain.ErrOrderHeld) {
		t.Fatalf("err = %v, want ErrOrderHeld", err)
	}
	if confirmed, _ := api.calls(); confirmed != 1 {
		t.Fatalf("ConfirmOrder called %d times, want 1", confirmed)
	}
}

func TestOrderManagerCreateFailure(t *testing.T) {
	api := &fakeOrderAPI{confirmErr: errors.New("insufficient funds")}
	m := NewOrderManager(api, testLogger)

	_, err := m.Create(context.Background(), "m1", 1, 100)
	if !errors.Is(err, domain.ErrOrderCreationFailure) {
		t.Fatalf("err = %v, want ErrOrderCreationFailure", err)
	}
	if _, held := m.Current(); held {
		t.Fatal("failed create left an order held")
	}
}

func TestOrderManagerCancel(t *testing.T) {
	tests := []struct {
		name      string
		cancelErr error
	}{
		{"success", nil},
		{"exchange error", errors.New("order already filled")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeOrderAPI{cancelErr: tt.cancelErr}
			obs := &recordingObserver{}
			m := NewOrderManager(api, testLogger, obs)

			if _, err := m.Create(context.Background(), "m1", 1, 100); err != nil {
				t.Fatalf("Create: %v", err)
			}
			err := m.Cancel(context.Background())
			if (err != nil) != (tt.cancelErr != nil) {
				t.Fatalf("Cancel err = %v, want error %v", err, tt.cancelErr != nil)
			}
			if _, held := m.Current(); held {
				t.Fatal("order still held after cancel")
			}
			if len(obs.cancelled) != 1 || obs.cancelled[0].ID != "ord-1" {
				t.Fatalf("observer cancelled = %+v", obs.cancelled)
			}
		})
	}
}

func TestOrderManagerCancelWithoutOrder(t *testing.T) {
	api := &fakeOrderAPI{}
	m := NewOrderManager(api, testLogger)

	if err := m.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, cancelled := api.calls(); cancelled != 0 {
		t.Fatalf("CancelOrder called %d times, want 0", cancelled)
	}
}

// stuckObserver blocks every call until release is closed, ignoring ctx
// when ignoreCtx is set.
type stuckObserver struct {
	release   chan struct{}
	ignoreCtx bool
	deadlines chan bool
}

func (o *stuckObserver) block(ctx context.Context) {
	_, hasDeadline := ctx.Deadline()
	o.deadlines <- hasDeadline
	if o.ignoreCtx {
		<-o.release
		return
	}
	select {
	case <-ctx.Done():
	case <-o.release:
	}
}

func (o *stuckObserver) OrderPlaced(ctx context.Context, _ domain.Order) { o.block(ctx) }

func (o *stuckObserver) OrderCancelled(ctx context.Context, _ domain.Order, _ error) { o.block(ctx) }

func TestOrderManagerSlowObserver(t *testing.T) {
	for _, ignoreCtx := range []bool{false, true} {
		obs := &stuckObserver{release: make(chan struct{}), ignoreCtx: ignoreCtx, deadlines: make(chan bool, 2)}
		api := &fakeOrderAPI{}
		m := NewOrderManager(api, testLogger, obs)
		m.observerTimeout = 20 * time.Millisecond

		start := time.Now()
		if _, err := m.Create(context.Background(), "m1", 1, 100); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := m.Cancel(context.Background()); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("ignoreCtx=%v: Create and Cancel took %v behind a stuck observer", ignoreCtx, elapsed)
		}
		if _, cancelled := api.calls(); cancelled != 1 {
			t.Fatalf("ignoreCtx=%v: CancelOrder called %d times, want 1", ignoreCtx, cancelled)
		}
		for i := 0; i < 2; i++ {
			if !<-obs.deadlines {
				t.Fatalf("ignoreCtx=%v: observer context has no deadline", ignoreCtx)
			}
		}
		close(obs.release)
	}
}

func TestOrderManagerObserverOutlivesCaller(t *testing.T) {
	obs := &recordingObserver{}
	m := NewOrderManager(&fakeOrderAPI{}, testLogger, obs)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.Create(ctx, "m1", 1, 100); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cancel()
	// The caller's context is done but the observer still hears about it.
	_ = m.Cancel(ctx)
	if len(obs.cancelled) != 1 {
		t.Fatalf("observer cancelled = %+v", obs.cancelled)
	}
}
