package bot

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

func TestComputePrice(t *testing.T) {
	tests := []struct {
		maxBid      int64
		probability float64
		capPct      int
		want        int64
	}{
		{5000, 0.6, 10, 3300},
		{5000, 0.6, 0, 3000},
		{10000, 0.25, 5, 2625},
		{999, 0.5, 3, 514},
		{1, 0.01, 10, 0},
	}
	for _, tt := range tests {
		_, got := ComputePrice(tt.maxBid, tt.probability, tt.capPct)
		if got != tt.want {
			t.Errorf("ComputePrice(%d, %v, %d) = %d, want %d",
				tt.maxBid, tt.probability, tt.capPct, got, tt.want)
		}
	}
}

func TestPricerQuote(t *testing.T) {
	rng := &fakeRand{vals: []int{10, 4}}
	p := NewPricer(DefaultPricingConfig(), rng)

	q, err := p.Quote(tradeable("m1", 5000, 0.6))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.MaxBidPrice != 5000 {
		t.Errorf("MaxBidPrice = %d, want 5000", q.MaxBidPrice)
	}
	if q.ProbabilityCap != 10 {
		t.Errorf("ProbabilityCap = %d, want 10", q.ProbabilityCap)
	}
	if q.Price != 3300 {
		t.Errorf("Price = %d, want 3300", q.Price)
	}
	if q.Quantity != 5 {
		t.Errorf("Quantity = %d, want 5", q.Quantity)
	}
}

func TestPricerQuoteNoBids(t *testing.T) {
	p := NewPricer(DefaultPricingConfig(), &fakeRand{})
	_, err := p.Quote(domain.Market{ID: "m1", Probability: 0.5})
	if !errors.Is(err, domain.ErrNoEligibleMarket) {
		t.Fatalf("err = %v, want ErrNoEligibleMarket", err)
	}
}

func TestPricerQuantityRange(t *testing.T) {
	vals := make([]int, 0, 25)
	for i := 0; i < 25; i++ {
		vals = append(vals, i)
	}
	p := NewPricer(DefaultPricingConfig(), &fakeRand{vals: vals})

	seen := make(map[int64]bool)
	for i := 0; i < 25; i++ {
		q := p.Quantity()
		if q < 1 || q > 10 {
			t.Fatalf("Quantity() = %d, outside [1, 10]", q)
		}
		seen[q] = true
	}
	if len(seen) != 10 {
		t.Fatalf("saw %d distinct quantities, want 10", len(seen))
	}
}

func TestNewPricerFallsBackOnInvalidBounds(t *testing.T) {
	p := NewPricer(PricingConfig{ProbabilityCapMax: -1, QuantityMin: 5, QuantityMax: 2}, &fakeRand{})
	if p.cfg != DefaultPricingConfig() {
		t.Fatalf("cfg = %+v, want defaults", p.cfg)
	}
}
