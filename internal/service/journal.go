// Package service records what the bot does. Journal observes the order
// manager and the controller and fans each event out to the optional
// persistence, messaging, notification and archive backends.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/stxbot/internal/bot"
	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/notify"
)

// Notifier sends operator alerts filtered by event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Archiver stores the final report of a run.
type Archiver interface {
	Archive(ctx context.Context, summary domain.RunSummary) (string, error)
}

// JournalDeps are the backends a Journal writes to. Every field is optional.
type JournalDeps struct {
	Orders   domain.OrderStore
	Audit    domain.AuditStore
	Runs     domain.RunStore
	Bus      domain.SignalBus
	Notifier Notifier
	Archiver Archiver

	// OrdersChannel and RunsChannel name the bus channels.
	OrdersChannel string
	RunsChannel   string
}

// Journal implements bot.OrderObserver and bot.RunObserver. Backend failures
// are logged and never reach the trading path.
type Journal struct {
	deps   JournalDeps
	logger *slog.Logger

	mu     sync.Mutex
	placed map[string]int // orders placed per run
}

// NewJournal creates a Journal.
func NewJournal(deps JournalDeps, logger *slog.Logger) *Journal {
	if deps.OrdersChannel == "" {
		deps.OrdersChannel = "orders"
	}
	if deps.RunsChannel == "" {
		deps.RunsChannel = "runs"
	}
	return &Journal{
		deps:   deps,
		logger: logger.With(slog.String("component", "journal")),
		placed: make(map[string]int),
	}
}

var (
	_ bot.OrderObserver = (*Journal)(nil)
	_ bot.RunObserver   = (*Journal)(nil)
)

// busEvent is the JSON envelope published on the signal bus.
type busEvent struct {
	Type  string        `json:"type"`
	RunID string        `json:"run_id,omitempty"`
	At    time.Time     `json:"at"`
	Order *domain.Order `json:"order,omitempty"`
	Run   any           `json:"run,omitempty"`
	Error string        `json:"error,omitempty"`
}

// OrderPlaced journals a newly held order. Every placement after the first
// one of a run is reported as a replacement.
func (j *Journal) OrderPlaced(ctx context.Context, order domain.Order) {
	runID := bot.RunIDFromContext(ctx)

	j.mu.Lock()
	j.placed[runID]++
	n := j.placed[runID]
	j.mu.Unlock()

	event := notify.EventOrderPlaced
	if n > 1 {
		event = notify.EventOrderReplaced
	}

	if j.deps.Orders != nil {
		j.check(ctx, "store order", j.deps.Orders.Create(ctx, runID, order))
	}
	j.audit(ctx, runID, event, orderDetail(order))
	j.publish(ctx, j.deps.OrdersChannel, busEvent{Type: event, RunID: runID, Order: &order})

	title := "Order placed"
	if event == notify.EventOrderReplaced {
		title = "Order replaced"
	}
	j.notify(ctx, event, title, fmt.Sprintf("%s %d @ %d on %s (order %s)",
		order.Action, order.Quantity, order.Price, order.MarketID, order.ID))
}

// OrderCancelled journals an order the bot stopped holding.
func (j *Journal) OrderCancelled(ctx context.Context, order domain.Order, cancelErr error) {
	runID := bot.RunIDFromContext(ctx)

	detail := orderDetail(order)
	busEv := busEvent{Type: "order_cancelled", RunID: runID, Order: &order}
	if cancelErr != nil {
		detail["error"] = cancelErr.Error()
		busEv.Error = cancelErr.Error()
	}

	if j.deps.Orders != nil {
		j.check(ctx, "mark order cancelled", j.deps.Orders.MarkCancelled(ctx, order.ID))
	}
	j.audit(ctx, runID, "order_cancelled", detail)
	j.publish(ctx, j.deps.OrdersChannel, busEv)

	if cancelErr != nil {
		j.notify(ctx, notify.EventError, "Cancel failed",
			fmt.Sprintf("order %s on %s: %v", order.ID, order.MarketID, cancelErr))
	}
}

// RunStarted journals the start of a run.
func (j *Journal) RunStarted(ctx context.Context, run bot.RunInfo) {
	if j.deps.Runs != nil {
		j.check(ctx, "store run start", j.deps.Runs.Start(ctx, domain.RunRecord{
			ID:        run.ID,
			StartedAt: run.StartedAt,
		}))
	}
	j.audit(ctx, run.ID, notify.EventRunStarted, nil)
	j.publish(ctx, j.deps.RunsChannel, busEvent{Type: notify.EventRunStarted, RunID: run.ID, Run: run})
	j.notify(ctx, notify.EventRunStarted, "Run started", "run "+run.ID)
}

// RunFinished journals the end of a run and archives its summary.
func (j *Journal) RunFinished(ctx context.Context, report bot.RunReport) {
	j.mu.Lock()
	delete(j.placed, report.RunID)
	j.mu.Unlock()

	summary := Summarize(report)

	if j.deps.Runs != nil {
		finished := report.FinishedAt
		j.check(ctx, "store run finish", j.deps.Runs.Finish(ctx, domain.RunRecord{
			ID:           report.RunID,
			MarketID:     report.MarketID,
			StartedAt:    report.StartedAt,
			FinishedAt:   &finished,
			Outcome:      report.Outcome,
			Replacements: report.Stats.Replacements,
			Error:        summary.Error,
		}))
	}

	j.audit(ctx, report.RunID, notify.EventRunFinished, map[string]any{
		"outcome":      report.Outcome,
		"phase":        string(report.Phase),
		"events":       report.Stats.Events,
		"replacements": report.Stats.Replacements,
		"recovered":    report.Stats.Recovered,
		"error":        summary.Error,
	})
	j.publish(ctx, j.deps.RunsChannel, busEvent{
		Type:  notify.EventRunFinished,
		RunID: report.RunID,
		Run:   summary,
		Error: summary.Error,
	})

	if j.deps.Archiver != nil {
		if _, err := j.deps.Archiver.Archive(ctx, summary); err != nil {
			j.check(ctx, "archive run", err)
		}
	}

	msg := fmt.Sprintf("run %s on %q: %s after %d replacement(s)",
		report.RunID, report.MarketTitle, report.Outcome, report.Stats.Replacements)
	if report.Err != nil {
		j.notify(ctx, notify.EventError, "Run failed", msg+": "+summary.Error)
		return
	}
	j.notify(ctx, notify.EventRunFinished, "Run finished", msg)
}

// Summarize converts a controller report into its archived form.
func Summarize(report bot.RunReport) domain.RunSummary {
	s := domain.RunSummary{
		RunID:        report.RunID,
		MarketID:     report.MarketID,
		MarketTitle:  report.MarketTitle,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Phase:        string(report.Phase),
		Outcome:      report.Outcome,
		Events:       report.Stats.Events,
		Replacements: report.Stats.Replacements,
		Recovered:    report.Stats.Recovered,
		FinalOrder:   report.FinalOrder,
	}
	if report.InitialQuote != nil {
		s.InitialPrice = report.InitialQuote.Price
		s.InitialQuantity = report.InitialQuote.Quantity
	}
	if report.Err != nil {
		s.Error = report.Err.Error()
	}
	return s
}

func orderDetail(o domain.Order) map[string]any {
	return map[string]any{
		"order_id":  o.ID,
		"market_id": o.MarketID,
		"price":     o.Price,
		"quantity":  o.Quantity,
		"status":    string(o.Status),
	}
}

func (j *Journal) audit(ctx context.Context, runID, event string, detail map[string]any) {
	if j.deps.Audit == nil {
		return
	}
	j.check(ctx, "audit "+event, j.deps.Audit.Log(ctx, runID, event, detail))
}

func (j *Journal) publish(ctx context.Context, channel string, ev busEvent) {
	if j.deps.Bus == nil {
		return
	}
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		j.check(ctx, "marshal bus event", err)
		return
	}
	j.check(ctx, "publish "+ev.Type, j.deps.Bus.Publish(ctx, channel, payload))
}

func (j *Journal) notify(ctx context.Context, event, title, message string) {
	if j.deps.Notifier == nil {
		return
	}
	j.check(ctx, "notify "+event, j.deps.Notifier.Notify(ctx, event, title, message))
}

func (j *Journal) check(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	j.logger.WarnContext(ctx, op+" failed",
		slog.String("run_id", bot.RunIDFromContext(ctx)),
		slog.String("error", err.Error()),
	)
}
