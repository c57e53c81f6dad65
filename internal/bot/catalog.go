// Package bot implements the single-order trading cycle: market catalog,
// selection, pricing, order ownership and the reconciliation loop that keeps
// the order in line with the streamed market price.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

// MarketLister fetches the full set of tradeable markets.
type MarketLister interface {
	MarketInfos(ctx context.Context) ([]domain.Market, error)
}

// CatalogSink receives every successfully refreshed catalog. Sinks are
// best-effort: their errors are logged and never fail a refresh.
type CatalogSink interface {
	ReplaceAll(ctx context.Context, markets []domain.Market) error
}

// Catalog holds the latest fetched copy of every market keyed by ID.
type Catalog struct {
	lister MarketLister
	sink   CatalogSink
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewCatalog creates an empty Catalog. sink may be nil.
func NewCatalog(lister MarketLister, sink CatalogSink, logger *slog.Logger) *Catalog {
	return &Catalog{
		lister:  lister,
		sink:    sink,
		logger:  logger.With(slog.String("component", "bot.catalog")),
		markets: make(map[string]domain.Market),
	}
}

// Refresh replaces the catalog with the exchange's current market list and
// returns the sorted market IDs. On failure the existing catalog is kept.
func (c *Catalog) Refresh(ctx context.Context) ([]string, error) {
	c.logger.InfoContext(ctx, "fetching market catalog")

	markets, err := c.lister.MarketInfos(ctx)
	if err != nil {
		metrics.RecordCatalogRefresh(0, err)
		return nil, fmt.Errorf("catalog: refresh: %w: %w", domain.ErrCatalogFetchFailed, err)
	}

	next := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		next[m.ID] = m
	}

	c.mu.Lock()
	c.markets = next
	c.mu.Unlock()

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	metrics.RecordCatalogRefresh(len(ids), nil)

	c.logger.InfoContext(ctx, "market catalog refreshed", slog.Int("markets", len(ids)))

	if c.sink != nil {
		if err := c.sink.ReplaceAll(ctx, markets); err != nil {
			c.logger.WarnContext(ctx, "catalog sink failed", slog.String("error", err.Error()))
		}
	}

	return ids, nil
}

// Get returns the market with the given ID.
func (c *Catalog) Get(id string) (domain.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	return m, ok
}

// ByShortTitle returns the first market (in ID order) with the given short
// title.
func (c *Catalog) ByShortTitle(title string) (domain.Market, bool) {
	for _, m := range c.Markets() {
		if m.ShortTitle == title {
			return m, true
		}
	}
	return domain.Market{}, false
}

// Markets returns a copy of the catalog ordered by market ID.
func (c *Catalog) Markets() []domain.Market {
	c.mu.RLock()
	out := make([]domain.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of markets held.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}
