package handler

import (
	"net/http"
	"sort"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// MarketSource is the in-memory market catalog.
type MarketSource interface {
	Markets() []domain.Market
	Get(id string) (domain.Market, bool)
}

// MarketHandler serves the catalog snapshot.
type MarketHandler struct {
	markets MarketSource
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketSource) *MarketHandler {
	return &MarketHandler{markets: markets}
}

type marketDTO struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	ShortTitle  string  `json:"short_title,omitempty"`
	Status      string  `json:"status"`
	Probability float64 `json:"probability"`
	Price       float64 `json:"price"`
	MaxBidPrice *int64  `json:"max_bid_price,omitempty"`
	Eligible    bool    `json:"eligible"`
}

func toMarketDTO(m domain.Market) marketDTO {
	dto := marketDTO{
		ID:          m.ID,
		Title:       m.Title,
		ShortTitle:  m.ShortTitle,
		Status:      string(m.Status),
		Probability: m.Probability,
		Price:       m.Price,
		Eligible:    m.Eligible(),
	}
	if p, ok := m.MaxBidPrice(); ok {
		dto.MaxBidPrice = &p
	}
	return dto
}

// ListMarkets returns the catalog, optionally only eligible markets.
// GET /api/markets?eligible=true&limit=&offset=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	onlyEligible := r.URL.Query().Get("eligible") == "true"

	all := h.markets.Markets()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]marketDTO, 0, len(all))
	for _, m := range all {
		if onlyEligible && !m.Eligible() {
			continue
		}
		out = append(out, toMarketDTO(m))
	}

	total := len(out)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out[start:end],
		"total":   total,
	})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := h.markets.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, toMarketDTO(m))
}
