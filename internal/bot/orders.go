package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

// OrderAPI is the slice of the exchange API the order manager needs.
type OrderAPI interface {
	ConfirmOrder(ctx context.Context, order domain.UserOrder) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// defaultObserverTimeout bounds each observer call made from Create and
// Cancel.
const defaultObserverTimeout = 5 * time.Second

// OrderObserver is told about every order the manager places or drops.
// Each call gets a context that expires after a few seconds and the manager
// stops waiting at that point. Failures are ignored.
type OrderObserver interface {
	OrderPlaced(ctx context.Context, order domain.Order)
	OrderCancelled(ctx context.Context, order domain.Order, cancelErr error)
}

// OrderManager owns the bot's single outstanding order.
type OrderManager struct {
	api       OrderAPI
	observers []OrderObserver
	logger    *slog.Logger

	observerTimeout time.Duration

	mu      sync.RWMutex
	current *domain.Order
}

// NewOrderManager creates an OrderManager with no held order.
func NewOrderManager(api OrderAPI, logger *slog.Logger, observers ...OrderObserver) *OrderManager {
	return &OrderManager{
		api:       api,
		observers: observers,
		logger:    logger.With(slog.String("component", "bot.orders")),

		observerTimeout: defaultObserverTimeout,
	}
}

// Current returns the held order, if any.
func (m *OrderManager) Current() (domain.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return domain.Order{}, false
	}
	return *m.current, true
}

// Create places a LIMIT BUY order and holds it. It refuses with
// domain.ErrOrderHeld while another order is held.
func (m *OrderManager) Create(ctx context.Context, marketID string, quantity, price int64) (domain.Order, error) {
	if _, held := m.Current(); held {
		metrics.OrdersPlaced.WithLabelValues("held").Inc()
		return domain.Order{}, fmt.Errorf("orders: create: %w", domain.ErrOrderHeld)
	}

	m.logger.InfoContext(ctx, "placing order",
		slog.String("market_id", marketID),
		slog.Int64("price", price),
		slog.Int64("quantity", quantity),
	)

	placed, err := m.api.ConfirmOrder(ctx, domain.UserOrder{
		MarketID: marketID,
		Type:     domain.OrderTypeLimit,
		Action:   domain.OrderActionBuy,
		Quantity: quantity,
		Price:    price,
	})
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		return domain.Order{}, fmt.Errorf("orders: create: %w: %w", domain.ErrOrderCreationFailure, err)
	}
	if placed.ID == "" {
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		return domain.Order{}, fmt.Errorf("orders: create: %w: exchange returned no order id", domain.ErrOrderCreationFailure)
	}

	// The confirmation may omit fields we already know.
	if placed.MarketID == "" {
		placed.MarketID = marketID
	}
	if placed.Price == 0 {
		placed.Price = price
	}
	if placed.Quantity == 0 {
		placed.Quantity = quantity
	}
	if placed.Type == "" {
		placed.Type = domain.OrderTypeLimit
	}
	if placed.Action == "" {
		placed.Action = domain.OrderActionBuy
	}

	m.mu.Lock()
	m.current = &placed
	m.mu.Unlock()
	metrics.OrdersPlaced.WithLabelValues("success").Inc()

	m.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", placed.ID),
		slog.String("status", string(placed.Status)),
		slog.Int64("total", placed.Total()),
	)

	for _, o := range m.observers {
		m.notify(ctx, "order_placed", func(octx context.Context) { o.OrderPlaced(octx, placed) })
	}
	return placed, nil
}

// Cancel cancels the held order, if any, and always stops holding it. A
// failed cancel request is logged and returned for information only; the
// handle is cleared regardless.
func (m *OrderManager) Cancel(ctx context.Context) error {
	m.mu.RLock()
	held := m.current
	m.mu.RUnlock()

	if held == nil {
		return nil
	}

	m.logger.InfoContext(ctx, "cancelling order", slog.String("order_id", held.ID))

	err := m.api.CancelOrder(ctx, held.ID)

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.OrdersCancelled.WithLabelValues(status).Inc()

	if err != nil {
		m.logger.WarnContext(ctx, "cancel request failed, order no longer tracked",
			slog.String("order_id", held.ID),
			slog.String("error", err.Error()),
		)
		err = fmt.Errorf("orders: cancel %s: %w", held.ID, err)
	}

	cancelled := *held
	for _, o := range m.observers {
		m.notify(ctx, "order_cancelled", func(octx context.Context) { o.OrderCancelled(octx, cancelled, err) })
	}
	return err
}

// notify runs one observer call on a context detached from ctx and bounded by
// observerTimeout. An observer that outlives the deadline is left to finish
// on its own.
func (m *OrderManager) notify(ctx context.Context, event string, fn func(context.Context)) {
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.observerTimeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		fn(octx)
	}()

	select {
	case <-done:
	case <-octx.Done():
		m.logger.WarnContext(ctx, "order observer timed out",
			slog.String("event", event),
			slog.Duration("timeout", m.observerTimeout),
		)
	}
}
