package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// OrderLister returns the orders journaled for a run.
type OrderLister interface {
	ListByRun(ctx context.Context, runID string) ([]domain.OrderRecord, error)
}

// AuditLister returns the audit trail of a run.
type AuditLister interface {
	List(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// RunArchiver uploads one JSON document per finished run. When the journal
// stores are available the document also carries the run's orders and audit
// trail.
type RunArchiver struct {
	writer domain.BlobWriter
	prefix string
	orders OrderLister
	audit  AuditLister
	logger *slog.Logger
}

// NewRunArchiver creates a RunArchiver. orders and audit may be nil.
func NewRunArchiver(writer domain.BlobWriter, prefix string, orders OrderLister, audit AuditLister, logger *slog.Logger) *RunArchiver {
	return &RunArchiver{
		writer: writer,
		prefix: strings.Trim(prefix, "/"),
		orders: orders,
		audit:  audit,
		logger: logger.With(slog.String("component", "s3blob.run_archiver")),
	}
}

// Archive uploads summary and returns the object path.
func (a *RunArchiver) Archive(ctx context.Context, summary domain.RunSummary) (string, error) {
	if summary.RunID == "" {
		return "", fmt.Errorf("s3blob: archive run: missing run id")
	}

	if a.orders != nil && summary.Orders == nil {
		orders, err := a.orders.ListByRun(ctx, summary.RunID)
		if err != nil {
			a.logger.WarnContext(ctx, "run orders unavailable for archive",
				slog.String("run_id", summary.RunID),
				slog.String("error", err.Error()),
			)
		}
		summary.Orders = orders
	}
	if a.audit != nil && summary.Audit == nil {
		entries, err := a.audit.List(ctx, summary.RunID, domain.ListOpts{})
		if err != nil {
			a.logger.WarnContext(ctx, "run audit unavailable for archive",
				slog.String("run_id", summary.RunID),
				slog.String("error", err.Error()),
			)
		}
		summary.Audit = entries
	}

	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal run %s: %w", summary.RunID, err)
	}

	key := RunPath(a.prefix, summary)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "run report archived",
		slog.String("run_id", summary.RunID),
		slog.String("path", key),
	)
	return key, nil
}

// RunPath returns where a run report is stored, for example
//
//	runs/2026-10-18/8f0c...e1.json
func RunPath(prefix string, summary domain.RunSummary) string {
	day := summary.StartedAt.UTC().Format("2006-01-02")
	return path.Join(prefix, day, summary.RunID+".json")
}
