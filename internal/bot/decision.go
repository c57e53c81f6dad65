package bot

import (
	"math"
	"sort"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// DefaultBand is the relative tolerance around the order price inside which
// market moves are ignored.
const DefaultBand = 0.05

// Action is what the reconciler should do with one market update.
type Action int

const (
	ActionIgnore Action = iota
	ActionReplace
	// ActionRecover means the tracked market's entry could not be read.
	ActionRecover
)

func (a Action) String() string {
	switch a {
	case ActionReplace:
		return "replace"
	case ActionRecover:
		return "recover"
	default:
		return "ignore"
	}
}

// Reasons attached to ignored updates.
const (
	ReasonNoPayload    = "no_payload"
	ReasonEmptyPayload = "empty_payload"
	ReasonOtherMarket  = "other_market"
	ReasonEventType    = "event_type"
	ReasonNoPrice      = "no_price"
	ReasonInvalidPrice = "invalid_price"
	ReasonNoOrder      = "no_order"
	ReasonInsideBand   = "inside_band"
	ReasonOutsideBand  = "outside_band"
	ReasonMalformed    = "malformed"
)

// Decision is the pure result of inspecting one market update against the
// held order.
type Decision struct {
	Action   Action
	Reason   string
	Observed float64 // streamed market price, when present
	Lower    float64
	Upper    float64
	Price    int64 // replacement price for ActionReplace
	Err      error // decode failure for ActionRecover
}

// Band returns the closed interval [price*(1-band), price*(1+band)].
func Band(price int64, band float64) (lower, upper float64) {
	p := float64(price)
	return p * (1 - band), p * (1 + band)
}

// OutsideBand reports whether observed lies strictly outside the closed band
// around price.
func OutsideBand(price int64, observed, band float64) bool {
	lower, upper := Band(price, band)
	return observed < lower || observed > upper
}

// Decide inspects a market_info update for the tracked market. held reports
// whether order is a live order. It never mutates anything.
func Decide(marketID string, order domain.Order, held bool, update *domain.MarketUpdate, band float64) Decision {
	if update == nil || (update.Markets == nil && update.Invalid == nil) {
		return Decision{Action: ActionIgnore, Reason: ReasonNoPayload}
	}
	if len(update.Markets) == 0 && len(update.Invalid) == 0 {
		return Decision{Action: ActionIgnore, Reason: ReasonEmptyPayload}
	}

	// The stream sends one market per frame; with more, only the first key
	// in sorted order is considered.
	keys := make([]string, 0, len(update.Markets)+len(update.Invalid))
	for k := range update.Markets {
		keys = append(keys, k)
	}
	for k := range update.Invalid {
		if _, dup := update.Markets[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if err, bad := update.Invalid[keys[0]]; bad {
		if keys[0] != marketID {
			return Decision{Action: ActionIgnore, Reason: ReasonOtherMarket}
		}
		return Decision{Action: ActionRecover, Reason: ReasonMalformed, Err: err}
	}

	partial := update.Markets[keys[0]]
	id := partial.MarketID
	if id == "" {
		id = keys[0]
	}

	if id != marketID {
		return Decision{Action: ActionIgnore, Reason: ReasonOtherMarket}
	}
	if update.Event != domain.EventMarketUpdated {
		return Decision{Action: ActionIgnore, Reason: ReasonEventType}
	}
	if partial.Price == nil {
		return Decision{Action: ActionIgnore, Reason: ReasonNoPrice}
	}

	observed := *partial.Price
	if math.IsNaN(observed) || math.IsInf(observed, 0) || math.Floor(observed) < 1 {
		return Decision{Action: ActionIgnore, Reason: ReasonInvalidPrice, Observed: observed}
	}
	if !held {
		return Decision{Action: ActionIgnore, Reason: ReasonNoOrder, Observed: observed}
	}

	lower, upper := Band(order.Price, band)
	d := Decision{Observed: observed, Lower: lower, Upper: upper}
	if observed >= lower && observed <= upper {
		d.Action = ActionIgnore
		d.Reason = ReasonInsideBand
		return d
	}

	d.Action = ActionReplace
	d.Reason = ReasonOutsideBand
	d.Price = int64(math.Floor(observed))
	return d
}
