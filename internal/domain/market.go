package domain

import "time"

// MarketStatus represents the trading state reported by the exchange.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "OPEN"
	MarketStatusPreOpen MarketStatus = "PRE_OPEN"
	MarketStatusClosed  MarketStatus = "CLOSED"
	MarketStatusSettled MarketStatus = "SETTLED"
	MarketStatusHalted  MarketStatus = "HALTED"
	MarketStatusUnknown MarketStatus = ""
)

// EventStatus represents the state of the real-world event behind a market.
type EventStatus string

// PriceLevel is one (price, quantity) rung of standing liquidity.
type PriceLevel struct {
	Price    int64
	Quantity int64
}

// Market is an immutable snapshot of one tradeable instrument.
type Market struct {
	ID          string
	Title       string
	ShortTitle  string
	Question    string
	EventType   string
	Status      MarketStatus
	EventStatus EventStatus
	MaxPrice    int64
	Probability float64 // 0..1
	Price       float64 // last traded / best price
	Position    int64
	Bids        []PriceLevel
	Offers      []PriceLevel
}

// Eligible reports whether the market can be traded by the bot: it needs at
// least one bid and a positive probability.
func (m Market) Eligible() bool {
	return len(m.Bids) > 0 && m.Probability > 0
}

// MaxBidPrice returns the highest bid price. ok is false when there are no
// bids.
func (m Market) MaxBidPrice() (price int64, ok bool) {
	for i, b := range m.Bids {
		if i == 0 || b.Price > price {
			price = b.Price
		}
	}
	return price, len(m.Bids) > 0
}

// PartialMarket is a streamed market delta. Only MarketID and Timestamp are
// guaranteed; every other field is nil when it did not change.
type PartialMarket struct {
	MarketID    string
	Timestamp   time.Time
	Price       *float64
	Probability *float64
	Bids        []PriceLevel
	Offers      []PriceLevel
	Status      *MarketStatus
}
