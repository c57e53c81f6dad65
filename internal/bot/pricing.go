package bot

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// PricingConfig bounds the random draws of the pricer.
type PricingConfig struct {
	ProbabilityCapMax int // inclusive, percent
	QuantityMin       int64
	QuantityMax       int64 // inclusive
}

// DefaultPricingConfig returns the stock strategy bounds: a 0-10% probability
// bump and 1-10 contracts.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		ProbabilityCapMax: 10,
		QuantityMin:       1,
		QuantityMax:       10,
	}
}

// Quote is the outcome of pricing one market.
type Quote struct {
	Probability         float64
	ProbabilityCap      int
	AdjustedProbability float64
	MaxBidPrice         int64
	Price               int64
	Quantity            int64
}

// Pricer computes order price and quantity from a market snapshot.
type Pricer struct {
	cfg PricingConfig
	rng RandSource
}

// NewPricer creates a Pricer. Invalid bounds fall back to the defaults.
func NewPricer(cfg PricingConfig, rng RandSource) *Pricer {
	def := DefaultPricingConfig()
	if cfg.ProbabilityCapMax < 0 {
		cfg.ProbabilityCapMax = def.ProbabilityCapMax
	}
	if cfg.QuantityMin < 1 || cfg.QuantityMax < cfg.QuantityMin {
		cfg.QuantityMin, cfg.QuantityMax = def.QuantityMin, def.QuantityMax
	}
	return &Pricer{cfg: cfg, rng: rng}
}

// ComputePrice bumps probability by capPct percent and prices the order at
// the truncated product with the best bid.
func ComputePrice(maxBidPrice int64, probability float64, capPct int) (adjusted float64, price int64) {
	adjusted = probability * (1 + float64(capPct)/100)
	price = int64(math.Floor(float64(maxBidPrice) * adjusted))
	return adjusted, price
}

// Quote prices market. The market must have at least one bid.
func (p *Pricer) Quote(market domain.Market) (Quote, error) {
	maxBid, ok := market.MaxBidPrice()
	if !ok {
		return Quote{}, fmt.Errorf("pricer: market %s has no bids: %w", market.ID, domain.ErrNoEligibleMarket)
	}

	capPct := p.rng.IntN(p.cfg.ProbabilityCapMax + 1)
	adjusted, price := ComputePrice(maxBid, market.Probability, capPct)

	return Quote{
		Probability:         market.Probability,
		ProbabilityCap:      capPct,
		AdjustedProbability: adjusted,
		MaxBidPrice:         maxBid,
		Price:               price,
		Quantity:            p.Quantity(),
	}, nil
}

// Quantity draws an order quantity in [QuantityMin, QuantityMax].
func (p *Pricer) Quantity() int64 {
	span := int(p.cfg.QuantityMax - p.cfg.QuantityMin + 1)
	return p.cfg.QuantityMin + int64(p.rng.IntN(span))
}
