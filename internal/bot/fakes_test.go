package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

// fakeRand replays vals in order, reducing each modulo n.
type fakeRand struct {
	vals []int
	i    int
}

func (r *fakeRand) IntN(n int) int {
	if len(r.vals) == 0 {
		return 0
	}
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

// fakeOrderAPI hands out sequential order IDs and records every call.
type fakeOrderAPI struct {
	mu          sync.Mutex
	next        int
	confirmed   []domain.UserOrder
	cancelled   []string
	cancelCtxOK []bool
	confirmErr  error
	cancelErr   error
	// failAfter makes every ConfirmOrder after the first failAfter calls
	// fail. Zero disables it.
	failAfter int
}

func (f *fakeOrderAPI) ConfirmOrder(_ context.Context, o domain.UserOrder) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return domain.Order{}, f.confirmErr
	}
	if f.failAfter > 0 && len(f.confirmed) >= f.failAfter {
		return domain.Order{}, errors.New("exchange rejected order")
	}
	f.confirmed = append(f.confirmed, o)
	f.next++
	return domain.Order{
		ID:       fmt.Sprintf("ord-%d", f.next),
		MarketID: o.MarketID,
		Type:     o.Type,
		Action:   o.Action,
		Price:    o.Price,
		Quantity: o.Quantity,
		Status:   domain.OrderStatusOpen,
	}, nil
}

func (f *fakeOrderAPI) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	f.cancelCtxOK = append(f.cancelCtxOK, ctx.Err() == nil)
	return f.cancelErr
}

func (f *fakeOrderAPI) calls() (confirmed, cancelled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmed), len(f.cancelled)
}

// recordingObserver captures order and run notifications.
type recordingObserver struct {
	mu        sync.Mutex
	placed    []domain.Order
	cancelled []domain.Order
	started   []RunInfo
	finished  []RunReport
}

func (o *recordingObserver) OrderPlaced(_ context.Context, order domain.Order) {
	o.mu.Lock()
	o.placed = append(o.placed, order)
	o.mu.Unlock()
}

func (o *recordingObserver) OrderCancelled(_ context.Context, order domain.Order, _ error) {
	o.mu.Lock()
	o.cancelled = append(o.cancelled, order)
	o.mu.Unlock()
}

func (o *recordingObserver) RunStarted(_ context.Context, run RunInfo) {
	o.mu.Lock()
	o.started = append(o.started, run)
	o.mu.Unlock()
}

func (o *recordingObserver) RunFinished(_ context.Context, report RunReport) {
	o.mu.Lock()
	o.finished = append(o.finished, report)
	o.mu.Unlock()
}

type fakeLister struct {
	markets []domain.Market
	err     error
	calls   int
}

func (l *fakeLister) MarketInfos(context.Context) ([]domain.Market, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.markets, nil
}

type fakeAuth struct{ err error }

func (a fakeAuth) Authenticate(context.Context) error { return a.err }

type fakeStream struct {
	events chan domain.StreamEvent
	err    error
}

func (s *fakeStream) SubscribeMarketInfo(context.Context) (<-chan domain.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func ptr(f float64) *float64 { return &f }

func marketUpdate(marketID string, price float64) *domain.MarketUpdate {
	return &domain.MarketUpdate{
		Event: domain.EventMarketUpdated,
		Markets: map[string]domain.PartialMarket{
			marketID: {MarketID: marketID, Price: ptr(price)},
		},
	}
}

func tradeable(id string, maxBid int64, probability float64) domain.Market {
	return domain.Market{
		ID:          id,
		Title:       "Market " + id,
		Status:      domain.MarketStatusOpen,
		Probability: probability,
		Bids:        []domain.PriceLevel{{Price: maxBid - 100, Quantity: 3}, {Price: maxBid, Quantity: 1}},
	}
}
