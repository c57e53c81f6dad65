package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type memWriter struct {
	objects     map[string][]byte
	contentType string
	err         error
}

func (m *memWriter) Put(_ context.Context, key string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = body
	m.contentType = contentType
	return nil
}

type stubOrders struct {
	records []domain.OrderRecord
	err     error
}

func (s stubOrders) ListByRun(context.Context, string) ([]domain.OrderRecord, error) {
	return s.records, s.err
}

type stubAudit struct{ entries []domain.AuditEntry }

func (s stubAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func testSummary() domain.RunSummary {
	return domain.RunSummary{
		RunID:     "run-1",
		MarketID:  "m1",
		StartedAt: time.Date(2026, 10, 18, 23, 30, 0, 0, time.FixedZone("CET", 3600)),
		Phase:     "done",
		Outcome:   "closed",
	}
}

func TestRunPath(t *testing.T) {
	s := testSummary()
	if got := RunPath("runs", s); got != "runs/2026-10-18/run-1.json" {
		t.Fatalf("RunPath = %q", got)
	}
	if got := RunPath("", s); got != "2026-10-18/run-1.json" {
		t.Fatalf("RunPath without prefix = %q", got)
	}
}

func TestArchiveIncludesJournal(t *testing.T) {
	w := &memWriter{}
	orders := stubOrders{records: []domain.OrderRecord{{Order: domain.Order{ID: "ord-1"}, RunID: "run-1"}}}
	audit := stubAudit{entries: []domain.AuditEntry{{Event: "run_started"}, {Event: "run_finished"}}}
	a := NewRunArchiver(w, "/reports/", orders, audit, testLogger)

	key, err := a.Archive(context.Background(), testSummary())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if key != "reports/2026-10-18/run-1.json" {
		t.Fatalf("key = %q", key)
	}
	if w.contentType != "application/json" {
		t.Fatalf("content type = %q", w.contentType)
	}

	var got domain.RunSummary
	if err := json.Unmarshal(w.objects[key], &got); err != nil {
		t.Fatalf("stored document: %v", err)
	}
	if got.Outcome != "closed" || len(got.Orders) != 1 || len(got.Audit) != 2 {
		t.Fatalf("stored = %+v", got)
	}
}

func TestArchiveWithoutJournal(t *testing.T) {
	w := &memWriter{}
	a := NewRunArchiver(w, "runs", stubOrders{err: errors.New("db down")}, nil, testLogger)

	key, err := a.Archive(context.Background(), testSummary())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	var got domain.RunSummary
	if err := json.Unmarshal(w.objects[key], &got); err != nil {
		t.Fatal(err)
	}
	if got.Orders != nil || got.Audit != nil {
		t.Fatalf("stored = %+v, want no journal", got)
	}
}

func TestArchiveErrors(t *testing.T) {
	a := NewRunArchiver(&memWriter{}, "runs", nil, nil, testLogger)
	if _, err := a.Archive(context.Background(), domain.RunSummary{}); err == nil {
		t.Fatal("Archive accepted a summary without run id")
	}

	putErr := errors.New("access denied")
	a = NewRunArchiver(&memWriter{err: putErr}, "runs", nil, nil, testLogger)
	if _, err := a.Archive(context.Background(), testSummary()); !errors.Is(err, putErr) {
		t.Fatalf("err = %v, want upload error", err)
	}
}
