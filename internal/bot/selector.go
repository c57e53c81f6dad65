package bot

import (
	"fmt"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// RandSource is the randomness the selector and pricer draw from.
// *math/rand/v2.Rand satisfies it.
type RandSource interface {
	// IntN returns a uniform integer in [0, n).
	IntN(n int) int
}

// Selector picks one eligible market uniformly at random.
type Selector struct {
	rng RandSource
}

// NewSelector creates a Selector drawing from rng.
func NewSelector(rng RandSource) *Selector {
	return &Selector{rng: rng}
}

// Pick draws markets uniformly from the catalog until one is eligible.
// It fails with domain.ErrNoEligibleMarket when the catalog is empty or holds
// no eligible market at all.
func (s *Selector) Pick(c *Catalog) (domain.Market, error) {
	markets := c.Markets()
	if len(markets) == 0 {
		return domain.Market{}, fmt.Errorf("selector: empty catalog: %w", domain.ErrNoEligibleMarket)
	}

	eligible := 0
	for _, m := range markets {
		if m.Eligible() {
			eligible++
		}
	}
	if eligible == 0 {
		return domain.Market{}, fmt.Errorf("selector: none of %d markets has bids and a positive probability: %w",
			len(markets), domain.ErrNoEligibleMarket)
	}

	for {
		m := markets[s.rng.IntN(len(markets))]
		if m.Eligible() {
			return m, nil
		}
	}
}
