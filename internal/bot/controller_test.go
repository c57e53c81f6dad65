package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

type controllerFixture struct {
	api    *fakeOrderAPI
	obs    *recordingObserver
	lister *fakeLister
	stream *fakeStream
	auth   fakeAuth
}

func newFixture(markets ...domain.Market) *controllerFixture {
	return &controllerFixture{
		api:    &fakeOrderAPI{},
		obs:    &recordingObserver{},
		lister: &fakeLister{markets: markets},
		stream: &fakeStream{events: make(chan domain.StreamEvent, 8)},
	}
}

func (f *controllerFixture) controller() *Controller {
	return NewController(ControllerConfig{Band: 0.05}, ControllerDeps{
		Auth:           f.auth,
		Catalog:        NewCatalog(f.lister, nil, testLogger),
		Selector:       NewSelector(&fakeRand{}),
		Pricer:         NewPricer(DefaultPricingConfig(), &fakeRand{vals: []int{10, 4}}),
		Orders:         f.api,
		Stream:         f.stream,
		OrderObservers: []OrderObserver{f.obs},
		RunObservers:   []RunObserver{f.obs},
	}, testLogger)
}

func TestControllerRun(t *testing.T) {
	f := newFixture(tradeable("m1", 5000, 0.6))
	f.stream.events <- domain.StreamEvent{Kind: domain.EventOpen}
	f.stream.events <- domain.StreamEvent{Kind: domain.EventMessage, Update: marketUpdate("m1", 3400)}
	f.stream.events <- domain.StreamEvent{Kind: domain.EventMessage, Update: marketUpdate("m1", 4000)}
	f.stream.events <- domain.StreamEvent{Kind: domain.EventClose}

	c := f.controller()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.api.confirmed) != 2 {
		t.Fatalf("orders placed = %d, want 2", len(f.api.confirmed))
	}
	first := f.api.confirmed[0]
	if first.MarketID != "m1" || first.Price != 3300 || first.Quantity != 5 {
		t.Fatalf("initial order = %+v, want m1 3300x5", first)
	}
	if f.api.confirmed[1].Price != 4000 {
		t.Fatalf("replacement price = %d, want 4000", f.api.confirmed[1].Price)
	}
	if len(f.api.cancelled) != 2 {
		t.Fatalf("cancels = %v, want both orders cancelled", f.api.cancelled)
	}

	if len(f.obs.started) != 1 || len(f.obs.finished) != 1 {
		t.Fatalf("run observers saw %d starts, %d finishes", len(f.obs.started), len(f.obs.finished))
	}
	report := f.obs.finished[0]
	if report.RunID != f.obs.started[0].ID {
		t.Fatalf("report run id %q != started %q", report.RunID, f.obs.started[0].ID)
	}
	if report.Phase != PhaseDone || report.Outcome != "closed" {
		t.Fatalf("report = %s/%s, want done/closed", report.Phase, report.Outcome)
	}
	if report.Stats.Replacements != 1 || report.Stats.Ignored != 1 {
		t.Fatalf("stats = %+v", report.Stats)
	}
	if report.FinalOrder != nil {
		t.Fatalf("final order = %+v, want none", report.FinalOrder)
	}

	st := c.Status()
	if st.Phase != PhaseDone || st.MarketID != "m1" || st.Loop != StateTerminated.String() {
		t.Fatalf("status = %+v", st)
	}
}

func TestControllerRunFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *controllerFixture)
		want        error
		outcome     string
		wantOrders  int
		wantCancels int
	}{
		{
			name:    "authentication",
			setup:   func(f *controllerFixture) { f.auth = fakeAuth{err: domain.ErrAuthenticationFailed} },
			want:    domain.ErrAuthenticationFailed,
			outcome: "authentication_failed",
		},
		{
			name:    "catalog",
			setup:   func(f *controllerFixture) { f.lister.err = errors.New("timeout") },
			want:    domain.ErrCatalogFetchFailed,
			outcome: "catalog_fetch_failed",
		},
		{
			name:    "no eligible market",
			setup:   func(f *controllerFixture) { f.lister.markets = []domain.Market{{ID: "m1"}} },
			want:    domain.ErrNoEligibleMarket,
			outcome: "no_eligible_market",
		},
		{
			name:    "order rejected",
			setup:   func(f *controllerFixture) { f.api.confirmErr = errors.New("rejected") },
			want:    domain.ErrOrderCreationFailure,
			outcome: "order_creation_failed",
		},
		{
			name:        "subscribe",
			setup:       func(f *controllerFixture) { f.stream.err = errors.New("dial failed") },
			outcome:     "failed",
			wantOrders:  1,
			wantCancels: 1,
		},
		{
			name: "stream error",
			setup: func(f *controllerFixture) {
				f.stream.events <- domain.StreamEvent{Kind: domain.EventError, Err: errors.New("reset")}
			},
			want:        domain.ErrStreamError,
			outcome:     "stream_error",
			wantOrders:  1,
			wantCancels: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tradeable("m1", 5000, 0.6))
			tt.setup(f)

			err := f.controller().Run(context.Background())
			if err == nil {
				t.Fatal("Run succeeded, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.api.confirmed) != tt.wantOrders || len(f.api.cancelled) != tt.wantCancels {
				t.Fatalf("orders = %d, cancels = %d; want %d, %d",
					len(f.api.confirmed), len(f.api.cancelled), tt.wantOrders, tt.wantCancels)
			}
			if len(f.obs.finished) != 1 {
				t.Fatalf("finishes = %d, want 1", len(f.obs.finished))
			}
			report := f.obs.finished[0]
			if report.Phase != PhaseFailed || report.Outcome != tt.outcome {
				t.Fatalf("report = %s/%s, want failed/%s", report.Phase, report.Outcome, tt.outcome)
			}
		})
	}
}

// cancellingStream cancels the run as soon as the bot subscribes.
type cancellingStream struct {
	cancel context.CancelFunc
}

func (s cancellingStream) SubscribeMarketInfo(context.Context) (<-chan domain.StreamEvent, error) {
	s.cancel()
	return make(chan domain.StreamEvent), nil
}

func TestControllerRunShutdown(t *testing.T) {
	f := newFixture(tradeable("m1", 5000, 0.6))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := f.controller()
	c.deps.Stream = cancellingStream{cancel: cancel}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v, want nil on shutdown", err)
	}
	if len(f.api.cancelled) != 1 || !f.api.cancelCtxOK[0] {
		t.Fatalf("cancels = %v, want one cancel on a live context", f.api.cancelled)
	}
	if got := f.obs.finished[0].Phase; got != PhaseDone {
		t.Fatalf("phase = %s, want done", got)
	}
}

func TestRunIDContext(t *testing.T) {
	if id := RunIDFromContext(context.Background()); id != "" {
		t.Fatalf("empty context run id = %q", id)
	}
	ctx := WithRunID(context.Background(), "run-1")
	if id := RunIDFromContext(ctx); id != "run-1" {
		t.Fatalf("run id = %q, want run-1", id)
	}
}
