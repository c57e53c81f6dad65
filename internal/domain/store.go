package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// OrderRecord is a journaled order with the run that placed it.
type OrderRecord struct {
	Order
	RunID       string     `json:"run_id"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// OrderStore journals orders placed and cancelled by the bot.
type OrderStore interface {
	Create(ctx context.Context, runID string, order Order) error
	MarkCancelled(ctx context.Context, id string) error
	ListByRun(ctx context.Context, runID string) ([]OrderRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, runID, event string, detail map[string]any) error
	List(ctx context.Context, runID string, opts ListOpts) ([]AuditEntry, error)
}

// RunRecord summarises one bot run.
type RunRecord struct {
	ID           string     `json:"id"`
	MarketID     string     `json:"market_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	Replacements int        `json:"replacements"`
	Error        string     `json:"error,omitempty"`
}

// RunStore persists bot run summaries.
type RunStore interface {
	Start(ctx context.Context, run RunRecord) error
	Finish(ctx context.Context, run RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
}
