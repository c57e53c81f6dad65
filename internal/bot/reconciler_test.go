package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// newLoop returns a reconciler tracking m1 that holds ord-1 at 3300.
func newLoop(t *testing.T, api *fakeOrderAPI) (*Reconciler, *OrderManager) {
	t.Helper()
	orders := NewOrderManager(api, testLogger)
	if _, err := orders.Create(context.Background(), "m1", 5, 3300); err != nil {
		t.Fatalf("Create: %v", err)
	}
	pricer := NewPricer(DefaultPricingConfig(), &fakeRand{vals: []int{6}})
	return NewReconciler("m1", orders, pricer, DefaultBand, testLogger), orders
}

func TestHandleMessageReplacesOutsideBand(t *testing.T) {
	api := &fakeOrderAPI{}
	r, orders := newLoop(t, api)

	out := r.HandleMessage(context.Background(), marketUpdate("m1", 3500))
	if out.Kind != OutcomeReplaced {
		t.Fatalf("outcome = %v, want replaced (err %v)", out.Kind, out.Err)
	}
	if out.Previous == nil || out.Previous.ID != "ord-1" {
		t.Fatalf("previous = %+v, want ord-1", out.Previous)
	}

	cur, held := orders.Current()
	if !held {
		t.Fatal("no order held after replacement")
	}
	if cur.ID == "ord-1" {
		t.Fatal("replacement kept the old order id")
	}
	if cur.Price != 3500 || cur.Quantity != 7 {
		t.Fatalf("replacement = %+v, want price 3500 quantity 7", cur)
	}
	if len(api.cancelled) != 1 || api.cancelled[0] != "ord-1" {
		t.Fatalf("cancelled = %v, want [ord-1]", api.cancelled)
	}
	if st := r.Snapshot().Stats; st.Replacements != 1 || st.Events != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleMessageIgnores(t *testing.T) {
	malformed := &domain.MarketUpdate{Event: domain.EventMarketUpdated}

	tests := []struct {
		name   string
		update *domain.MarketUpdate
	}{
		{"inside band", marketUpdate("m1", 3400)},
		{"band edge", marketUpdate("m1", 3465)},
		{"other market", marketUpdate("m9", 10)},
		{"malformed", malformed},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeOrderAPI{}
			r, orders := newLoop(t, api)

			for i := 0; i < 2; i++ {
				out := r.HandleMessage(context.Background(), tt.update)
				if out.Kind != OutcomeIgnored {
					t.Fatalf("outcome = %v, want ignored", out.Kind)
				}
			}
			if confirmed, cancelled := api.calls(); confirmed != 1 || cancelled != 0 {
				t.Fatalf("api calls = %d confirms, %d cancels; want 1, 0", confirmed, cancelled)
			}
			if cur, _ := orders.Current(); cur.ID != "ord-1" || cur.Price != 3300 {
				t.Fatalf("held order changed to %+v", cur)
			}
		})
	}
}

func TestHandleMessageReplaceFailureRecovers(t *testing.T) {
	api := &fakeOrderAPI{failAfter: 1}
	r, orders := newLoop(t, api)

	out := r.HandleMessage(context.Background(), marketUpdate("m1", 5000))
	if out.Kind != OutcomeRecovered {
		t.Fatalf("outcome = %v, want recovered", out.Kind)
	}
	if !errors.Is(out.Err, domain.ErrOrderCreationFailure) {
		t.Fatalf("err = %v, want ErrOrderCreationFailure", out.Err)
	}
	if _, held := orders.Current(); held {
		t.Fatal("order held after failed replacement")
	}

	// Without an order, further updates are ignored.
	if out := r.HandleMessage(context.Background(), marketUpdate("m1", 9000)); out.Kind != OutcomeIgnored {
		t.Fatalf("outcome = %v, want ignored", out.Kind)
	}
}

func TestHandleMessageUndecodableEntry(t *testing.T) {
	decodeErr := errors.New("cannot unmarshal")

	t.Run("other market", func(t *testing.T) {
		api := &fakeOrderAPI{}
		r, orders := newLoop(t, api)
		update := &domain.MarketUpdate{
			Event:   domain.EventMarketUpdated,
			Markets: map[string]domain.PartialMarket{},
			Invalid: map[string]error{"m9": decodeErr},
		}
		if out := r.HandleMessage(context.Background(), update); out.Kind != OutcomeIgnored {
			t.Fatalf("outcome = %v, want ignored", out.Kind)
		}
		if _, cancelled := api.calls(); cancelled != 0 {
			t.Fatalf("cancelled %d orders for another market's entry", cancelled)
		}
		if cur, held := orders.Current(); !held || cur.ID != "ord-1" {
			t.Fatalf("held order = %+v, %v", cur, held)
		}
	})

	t.Run("tracked market", func(t *testing.T) {
		api := &fakeOrderAPI{}
		r, orders := newLoop(t, api)
		update := &domain.MarketUpdate{
			Event:   domain.EventMarketUpdated,
			Markets: map[string]domain.PartialMarket{},
			Invalid: map[string]error{"m1": decodeErr},
		}
		out := r.HandleMessage(context.Background(), update)
		if out.Kind != OutcomeRecovered || !errors.Is(out.Err, domain.ErrMalformedEvent) {
			t.Fatalf("outcome = %v (%v), want recovered malformed", out.Kind, out.Err)
		}
		if _, held := orders.Current(); held {
			t.Fatal("order still held after malformed entry")
		}
	})
}

func TestReconcilerRunClose(t *testing.T) {
	api := &fakeOrderAPI{}
	r, orders := newLoop(t, api)

	events := make(chan domain.StreamEvent, 4)
	events <- domain.StreamEvent{Kind: domain.EventOpen}
	events <- domain.StreamEvent{Kind: domain.EventMessage, Update: marketUpdate("m1", 3500)}
	events <- domain.StreamEvent{Kind: domain.EventClose, Reason: "normal"}

	if err := r.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.State() != StateTerminated {
		t.Fatalf("state = %v, want terminated", r.State())
	}
	if _, held := orders.Current(); held {
		t.Fatal("order still held after close")
	}
	want := []string{"ord-1", "ord-2"}
	if len(api.cancelled) != 2 || api.cancelled[0] != want[0] || api.cancelled[1] != want[1] {
		t.Fatalf("cancelled = %v, want %v", api.cancelled, want)
	}
}

func TestReconcilerRunStreamError(t *testing.T) {
	api := &fakeOrderAPI{}
	r, orders := newLoop(t, api)

	events := make(chan domain.StreamEvent, 1)
	events <- domain.StreamEvent{Kind: domain.EventError, Err: errors.New("connection reset")}

	err := r.Run(context.Background(), events)
	if !errors.Is(err, domain.ErrStreamError) {
		t.Fatalf("err = %v, want ErrStreamError", err)
	}
	if _, held := orders.Current(); held {
		t.Fatal("order still held after stream error")
	}
}

func TestReconcilerRunDecodeErrorRecovers(t *testing.T) {
	api := &fakeOrderAPI{}
	r, orders := newLoop(t, api)

	events := make(chan domain.StreamEvent, 2)
	events <- domain.StreamEvent{Kind: domain.EventMessage, Err: errors.New("bad json")}
	close(events)

	if err := r.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, held := orders.Current(); held {
		t.Fatal("order still held after recovery")
	}
	if st := r.Snapshot().Stats; st.Recovered != 1 {
		t.Fatalf("recovered = %d, want 1", st.Recovered)
	}
}

func TestReconcilerRunContextCancel(t *testing.T) {
	api := &fakeOrderAPI{}
	r, orders := newLoop(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.StreamEvent)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, held := orders.Current(); held {
		t.Fatal("order still held after shutdown")
	}
	if len(api.cancelCtxOK) != 1 || !api.cancelCtxOK[0] {
		t.Fatal("cancel was sent on a dead context")
	}
}
