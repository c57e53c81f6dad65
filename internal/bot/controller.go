package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// Authenticator logs the bot into the exchange.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// MarketStream opens the market_info subscription.
type MarketStream interface {
	SubscribeMarketInfo(ctx context.Context) (<-chan domain.StreamEvent, error)
}

// RunObserver is told when a run starts and how it ended.
type RunObserver interface {
	RunStarted(ctx context.Context, run RunInfo)
	RunFinished(ctx context.Context, report RunReport)
}

// Phase is the step of a run the controller is currently in.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAuthenticating Phase = "authenticating"
	PhaseFetching       Phase = "fetching_markets"
	PhaseSelecting      Phase = "selecting_market"
	PhasePlacing        Phase = "placing_order"
	PhaseSubscribing    Phase = "subscribing"
	PhaseReconciling    Phase = "reconciling"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// RunInfo identifies a run to observers.
type RunInfo struct {
	ID        string
	StartedAt time.Time
}

// RunReport describes a finished run.
type RunReport struct {
	RunID        string
	MarketID     string
	MarketTitle  string
	StartedAt    time.Time
	FinishedAt   time.Time
	Phase        Phase
	Outcome      string
	InitialQuote *Quote
	FinalOrder   *domain.Order
	Stats        Stats
	Err          error
}

// RunContext is the state owned by one run of the controller.
type RunContext struct {
	ID         string
	StartedAt  time.Time
	Market     domain.Market
	Quote      Quote
	Catalog    *Catalog
	Orders     *OrderManager
	Reconciler *Reconciler

	mu    sync.RWMutex
	phase Phase
}

func (rc *RunContext) setPhase(p Phase) {
	rc.mu.Lock()
	rc.phase = p
	rc.mu.Unlock()
}

// Phase returns the run's current phase.
func (rc *RunContext) Phase() Phase {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.phase
}

// ControllerConfig tunes the controller.
type ControllerConfig struct {
	Band float64
}

// ControllerDeps are the collaborators a Controller drives.
type ControllerDeps struct {
	Auth           Authenticator
	Catalog        *Catalog
	Selector       *Selector
	Pricer         *Pricer
	Orders         OrderAPI
	Stream         MarketStream
	OrderObservers []OrderObserver
	RunObservers   []RunObserver
}

// Controller sequences one full bot run: authenticate, fetch the catalog,
// pick a market, place the initial order, subscribe and reconcile until the
// stream ends.
type Controller struct {
	deps   ControllerDeps
	band   float64
	logger *slog.Logger

	mu  sync.RWMutex
	run *RunContext
}

// NewController creates a Controller.
func NewController(cfg ControllerConfig, deps ControllerDeps, logger *slog.Logger) *Controller {
	band := cfg.Band
	if band <= 0 {
		band = DefaultBand
	}
	return &Controller{
		deps:   deps,
		band:   band,
		logger: logger.With(slog.String("component", "bot.controller")),
	}
}

// Run executes one run to completion. It returns nil when the stream was
// closed normally. A failure before the reconciliation loop starts cancels
// any held order and is returned.
func (c *Controller) Run(ctx context.Context) error {
	rc := &RunContext{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Catalog:   c.deps.Catalog,
		phase:     PhaseIdle,
	}
	rc.Orders = NewOrderManager(c.deps.Orders, c.logger, c.deps.OrderObservers...)

	c.mu.Lock()
	c.run = rc
	c.mu.Unlock()

	ctx = WithRunID(ctx, rc.ID)
	logger := c.logger.With(slog.String("run_id", rc.ID))
	logger.InfoContext(ctx, "bot run starting")

	for _, o := range c.deps.RunObservers {
		o.RunStarted(ctx, RunInfo{ID: rc.ID, StartedAt: rc.StartedAt})
	}

	err := c.execute(ctx, rc, logger)

	report := c.report(rc, err)
	if err != nil {
		rc.setPhase(PhaseFailed)
		report.Phase = PhaseFailed
		logger.ErrorContext(ctx, "bot run failed",
			slog.String("phase", string(report.Phase)),
			slog.String("error", err.Error()),
		)
	} else {
		rc.setPhase(PhaseDone)
		report.Phase = PhaseDone
		logger.InfoContext(ctx, "bot run finished",
			slog.Int("replacements", report.Stats.Replacements),
		)
	}

	octx := context.WithoutCancel(ctx)
	for _, o := range c.deps.RunObservers {
		o.RunFinished(octx, report)
	}
	return err
}

func (c *Controller) execute(ctx context.Context, rc *RunContext, logger *slog.Logger) error {
	rc.setPhase(PhaseAuthenticating)
	if err := c.deps.Auth.Authenticate(ctx); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	rc.setPhase(PhaseFetching)
	if _, err := rc.Catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	rc.setPhase(PhaseSelecting)
	market, err := c.deps.Selector.Pick(rc.Catalog)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	rc.Market = market
	logger.InfoContext(ctx, "market selected",
		slog.String("market_id", market.ID),
		slog.String("title", market.Title),
		slog.Float64("probability", market.Probability),
	)

	rc.setPhase(PhasePlacing)
	quote, err := c.deps.Pricer.Quote(market)
	if err != nil {
		return fmt.Errorf("controller: %w: %w", domain.ErrOrderCreationFailure, err)
	}
	rc.Quote = quote
	logger.InfoContext(ctx, "initial quote",
		slog.Int64("max_bid_price", quote.MaxBidPrice),
		slog.Int("probability_cap", quote.ProbabilityCap),
		slog.Float64("adjusted_probability", quote.AdjustedProbability),
		slog.Int64("price", quote.Price),
		slog.Int64("quantity", quote.Quantity),
	)

	if _, err := rc.Orders.Create(ctx, market.ID, quote.Quantity, quote.Price); err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	rc.setPhase(PhaseSubscribing)
	events, err := c.deps.Stream.SubscribeMarketInfo(ctx)
	if err != nil {
		c.abandon(ctx, rc, logger)
		return fmt.Errorf("controller: subscribe: %w", err)
	}

	rc.Reconciler = NewReconciler(market.ID, rc.Orders, c.deps.Pricer, c.band, logger)
	rc.setPhase(PhaseReconciling)

	if err := rc.Reconciler.Run(ctx, events); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.InfoContext(ctx, "reconciliation stopped by shutdown")
			return nil
		}
		return fmt.Errorf("controller: %w", err)
	}
	return nil
}

// abandon cancels the held order after a failure before the loop started.
func (c *Controller) abandon(ctx context.Context, rc *RunContext, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := rc.Orders.Cancel(cctx); err != nil {
		logger.WarnContext(ctx, "cancel after failed start", slog.String("error", err.Error()))
	}
}

func (c *Controller) report(rc *RunContext, err error) RunReport {
	r := RunReport{
		RunID:       rc.ID,
		MarketID:    rc.Market.ID,
		MarketTitle: rc.Market.Title,
		StartedAt:   rc.StartedAt,
		FinishedAt:  time.Now().UTC(),
		Phase:       rc.Phase(),
		Outcome:     "closed",
		Err:         err,
	}
	if rc.Quote.Price > 0 {
		q := rc.Quote
		r.InitialQuote = &q
	}
	if rc.Reconciler != nil {
		r.Stats = rc.Reconciler.Snapshot().Stats
	}
	if o, held := rc.Orders.Current(); held {
		r.FinalOrder = &o
	}
	if err != nil {
		r.Outcome = outcomeFor(err)
	}
	return r
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, domain.ErrCatalogFetchFailed):
		return "catalog_fetch_failed"
	case errors.Is(err, domain.ErrNoEligibleMarket):
		return "no_eligible_market"
	case errors.Is(err, domain.ErrOrderCreationFailure):
		return "order_creation_failed"
	case errors.Is(err, domain.ErrStreamError):
		return "stream_error"
	default:
		return "failed"
	}
}

// ControllerStatus is the controller's view for the status endpoint.
type ControllerStatus struct {
	RunID     string        `json:"run_id,omitempty"`
	Phase     Phase         `json:"phase"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	MarketID  string        `json:"market_id,omitempty"`
	Title     string        `json:"market_title,omitempty"`
	Order     *domain.Order `json:"order,omitempty"`
	Loop      string        `json:"loop_state,omitempty"`
	Stats     *Stats        `json:"stats,omitempty"`
}

// Status reports the current or last run.
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	rc := c.run
	c.mu.RUnlock()

	if rc == nil {
		return ControllerStatus{Phase: PhaseIdle}
	}

	started := rc.StartedAt
	st := ControllerStatus{
		RunID:     rc.ID,
		Phase:     rc.Phase(),
		StartedAt: &started,
		MarketID:  rc.Market.ID,
		Title:     rc.Market.Title,
	}
	if o, held := rc.Orders.Current(); held {
		st.Order = &o
	}
	if rc.Reconciler != nil {
		snap := rc.Reconciler.Snapshot()
		st.Loop = snap.State.String()
		st.Stats = &snap.Stats
	}
	return st
}

type runIDKey struct{}

// WithRunID returns a context carrying the run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
