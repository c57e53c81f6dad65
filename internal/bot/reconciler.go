package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

// cancelTimeout bounds the fail-safe cancel issued after the run context is
// already gone.
const cancelTimeout = 10 * time.Second

// State is the externally visible state of the reconciliation loop.
type State int

const (
	StateAwaitingSubscription State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingSubscription:
		return "awaiting_subscription"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// OutcomeKind classifies what handling one message led to.
type OutcomeKind int

const (
	OutcomeIgnored OutcomeKind = iota
	OutcomeReplaced
	OutcomeRecovered
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one market update. A recovered outcome
// means handling failed and the held order was cancelled best-effort.
type Outcome struct {
	Kind     OutcomeKind
	Decision Decision
	Previous *domain.Order
	Order    *domain.Order
	Err      error
}

// Stats counts what the loop has done so far.
type Stats struct {
	Events       int `json:"events"`
	Ignored      int `json:"ignored"`
	Replacements int `json:"replacements"`
	Recovered    int `json:"recovered"`
}

// ReconcilerSnapshot is a read-only view of the loop for status reporting.
type ReconcilerSnapshot struct {
	State    State
	MarketID string
	Order    *domain.Order
	Stats    Stats
}

// Reconciler keeps the held order within the price band of the tracked
// market. Events are handled strictly one at a time.
type Reconciler struct {
	marketID string
	orders   *OrderManager
	pricer   *Pricer
	band     float64
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
	stats Stats
}

// NewReconciler creates a Reconciler for marketID. band <= 0 selects
// DefaultBand.
func NewReconciler(marketID string, orders *OrderManager, pricer *Pricer, band float64, logger *slog.Logger) *Reconciler {
	if band <= 0 {
		band = DefaultBand
	}
	return &Reconciler{
		marketID: marketID,
		orders:   orders,
		pricer:   pricer,
		band:     band,
		logger: logger.With(
			slog.String("component", "bot.reconciler"),
			slog.String("market_id", marketID),
		),
		state: StateAwaitingSubscription,
	}
}

// Run consumes events until the stream closes, errors, or ctx is done. The
// held order is cancelled on every exit path. A stream close returns nil; a
// stream error returns an error wrapping domain.ErrStreamError.
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.StreamEvent) error {
	r.setState(StateActive)
	r.logger.InfoContext(ctx, "reconciliation loop active")

	for {
		select {
		case <-ctx.Done():
			r.terminate(ctx, "context done")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				r.terminate(ctx, "event source ended")
				return nil
			}
			if err := r.dispatch(ctx, ev); err != nil {
				if errors.Is(err, domain.ErrStreamClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// dispatch routes one event. It returns a non-nil error only when the event
// terminated the loop.
func (r *Reconciler) dispatch(ctx context.Context, ev domain.StreamEvent) error {
	metrics.StreamEvents.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case domain.EventOpen:
		r.logger.InfoContext(ctx, "market channel joined")
		return nil

	case domain.EventMessage:
		if ev.Err != nil {
			r.mu.Lock()
			r.stats.Events++
			r.mu.Unlock()
			r.recoverWith(ctx, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, ev.Err))
			return nil
		}
		r.HandleMessage(ctx, ev.Update)
		return nil

	case domain.EventClose:
		reason := ev.Reason
		if reason == "" {
			reason = "closed by server"
		}
		r.logger.InfoContext(ctx, "market channel closed", slog.String("reason", reason))
		r.terminate(ctx, reason)
		return fmt.Errorf("reconciler: %w: %s", domain.ErrStreamClosed, reason)

	case domain.EventError:
		errMsg := "unknown error"
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		r.logger.ErrorContext(ctx, "market channel error", slog.String("error", errMsg))
		r.terminate(ctx, "stream error")
		return fmt.Errorf("reconciler: %w: %s", domain.ErrStreamError, errMsg)

	default:
		r.logger.WarnContext(ctx, "unknown stream event kind", slog.Int("kind", int(ev.Kind)))
		return nil
	}
}

// HandleMessage applies one market update. It never panics and never tears
// the loop down; failures are turned into a recovered outcome after a
// best-effort cancel.
func (r *Reconciler) HandleMessage(ctx context.Context, update *domain.MarketUpdate) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = r.recoverWith(ctx, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, p))
		}
	}()

	r.mu.Lock()
	r.stats.Events++
	r.mu.Unlock()

	order, held := r.orders.Current()
	d := Decide(r.marketID, order, held, update, r.band)
	metrics.Decisions.WithLabelValues(d.Action.String(), d.Reason).Inc()

	if d.Action == ActionRecover {
		out = r.recoverWith(ctx, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, d.Err))
		out.Decision = d
		return out
	}
	if d.Action == ActionIgnore {
		r.mu.Lock()
		r.stats.Ignored++
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "update ignored", slog.String("reason", d.Reason))
		return Outcome{Kind: OutcomeIgnored, Decision: d}
	}

	r.logger.InfoContext(ctx, "price moved outside band",
		slog.Int64("order_price", order.Price),
		slog.Float64("market_price", d.Observed),
		slog.Float64("lower", d.Lower),
		slog.Float64("upper", d.Upper),
	)

	placed, err := r.replace(ctx, d.Price)
	if err != nil {
		out = r.recoverWith(ctx, err)
		out.Decision = d
		out.Previous = &order
		return out
	}

	r.mu.Lock()
	r.stats.Replacements++
	r.mu.Unlock()
	metrics.Replacements.Inc()

	return Outcome{Kind: OutcomeReplaced, Decision: d, Previous: &order, Order: &placed}
}

// replace cancels the held order and places a new one at price with a
// freshly drawn quantity.
func (r *Reconciler) replace(ctx context.Context, price int64) (domain.Order, error) {
	// Cancel is best-effort; the handle is cleared even if the request fails.
	_ = r.orders.Cancel(ctx)

	quantity := r.pricer.Quantity()
	placed, err := r.orders.Create(ctx, r.marketID, quantity, price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reconciler: replace: %w", err)
	}

	r.logger.InfoContext(ctx, "order replaced",
		slog.String("order_id", placed.ID),
		slog.Int64("price", placed.Price),
		slog.Int64("quantity", placed.Quantity),
	)
	return placed, nil
}

func (r *Reconciler) recoverWith(ctx context.Context, err error) Outcome {
	r.logger.ErrorContext(ctx, "update handling failed, cancelling held order",
		slog.String("error", err.Error()),
	)
	_ = r.orders.Cancel(ctx)

	r.mu.Lock()
	r.stats.Recovered++
	r.mu.Unlock()
	metrics.Recovered.Inc()

	return Outcome{Kind: OutcomeRecovered, Err: err}
}

// terminate cancels the held order and moves to StateTerminated. The cancel
// runs on a detached context so it still goes out after ctx is cancelled.
func (r *Reconciler) terminate(ctx context.Context, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	if _, held := r.orders.Current(); held {
		r.logger.InfoContext(ctx, "cancelling held order before stopping", slog.String("reason", reason))
	}
	_ = r.orders.Cancel(cctx)

	r.setState(StateTerminated)
	r.logger.InfoContext(ctx, "reconciliation loop terminated", slog.String("reason", reason))
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	metrics.ReconcilerState.Set(float64(s))
}

// State returns the current loop state.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Snapshot returns a consistent view of the loop for status reporting.
func (r *Reconciler) Snapshot() ReconcilerSnapshot {
	r.mu.RLock()
	snap := ReconcilerSnapshot{
		State:    r.state,
		MarketID: r.marketID,
		Stats:    r.stats,
	}
	r.mu.RUnlock()

	if o, held := r.orders.Current(); held {
		snap.Order = &o
	}
	return snap
}
