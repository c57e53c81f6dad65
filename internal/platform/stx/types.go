package stx

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

// --------------------------------------------------------------------------
// GraphQL envelope
// --------------------------------------------------------------------------

type graphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// APIError is returned when the exchange answers with GraphQL errors.
type APIError struct {
	Operation string
	Errors    []GraphQLError
}

func (e *APIError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return e.Operation + ": " + strings.Join(msgs, "; ")
}

// --------------------------------------------------------------------------
// Authentication
// --------------------------------------------------------------------------

// APILoginResult is the payload of the login and confirm2Fa mutations.
type APILoginResult struct {
	Token               string `json:"token"`
	RefreshToken        string `json:"refreshToken"`
	UserID              string `json:"userId"`
	SessionID           string `json:"sessionId"`
	PromptTwoFactorAuth bool   `json:"promptTwoFactorAuth"`
}

// LoginResult is the outcome of a login attempt.
type LoginResult struct {
	Token             string
	UserID            string
	SessionID         string
	TwoFactorRequired bool
	Message           string
}

// --------------------------------------------------------------------------
// Markets
// --------------------------------------------------------------------------

// APIPriceLevel is one bid or offer rung. The stream writes integral
// prices either as 3400 or as 3400.0, so both fields decode as numbers.
type APIPriceLevel struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"quantity"`
}

func toLevels(in []APIPriceLevel) []domain.PriceLevel {
	if in == nil {
		return nil
	}
	out := make([]domain.PriceLevel, len(in))
	for i, l := range in {
		price, _ := numberFloat(l.Price)
		qty, _ := numberFloat(l.Quantity)
		out[i] = domain.PriceLevel{Price: int64(math.Round(price)), Quantity: int64(math.Round(qty))}
	}
	return out
}

// numberFloat converts n to a float64. ok is false when n is empty or not a
// finite number.
func numberFloat(n json.Number) (v float64, ok bool) {
	if n == "" {
		return 0, false
	}
	v, err := n.Float64()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func numberPtr(n *json.Number) *float64 {
	if n == nil {
		return nil
	}
	v, ok := numberFloat(*n)
	if !ok {
		return nil
	}
	return &v
}

// APIMarket is a market as returned by the marketInfos query.
type APIMarket struct {
	MarketID    string          `json:"marketId"`
	Title       string          `json:"title"`
	ShortTitle  string          `json:"shortTitle"`
	Question    string          `json:"question"`
	EventType   string          `json:"eventType"`
	Status      string          `json:"status"`
	EventStatus string          `json:"eventStatus"`
	MaxPrice    int64           `json:"maxPrice"`
	Probability float64         `json:"probability"`
	Price       *float64        `json:"price"`
	Position    int64           `json:"position"`
	Bids        []APIPriceLevel `json:"bids"`
	Offers      []APIPriceLevel `json:"offers"`
}

// ToDomain converts an APIMarket to a domain.Market.
func (m APIMarket) ToDomain() domain.Market {
	out := domain.Market{
		ID:          m.MarketID,
		Title:       m.Title,
		ShortTitle:  m.ShortTitle,
		Question:    m.Question,
		EventType:   m.EventType,
		Status:      domain.MarketStatus(m.Status),
		EventStatus: domain.EventStatus(m.EventStatus),
		MaxPrice:    m.MaxPrice,
		Probability: m.Probability,
		Position:    m.Position,
		Bids:        toLevels(m.Bids),
		Offers:      toLevels(m.Offers),
	}
	if m.Price != nil {
		out.Price = *m.Price
	}
	return out
}

// APIPartialMarket is a market delta pushed on the market_info channel. Only
// market_id and timestamp are always present. Numeric fields accept integer,
// float and quoted forms; a status that is not a string is dropped.
type APIPartialMarket struct {
	MarketID      string          `json:"market_id"`
	Timestamp     string          `json:"timestamp"`
	UnixTimestamp json.Number     `json:"unix_timestamp"`
	Price         *json.Number    `json:"price"`
	Probability   *json.Number    `json:"probability"`
	Bids          []APIPriceLevel `json:"bids"`
	Offers        []APIPriceLevel `json:"offers"`
	Status        json.RawMessage `json:"status"`
}

// ToDomain converts an APIPartialMarket to a domain.PartialMarket.
func (p APIPartialMarket) ToDomain() domain.PartialMarket {
	out := domain.PartialMarket{
		MarketID:    p.MarketID,
		Price:       numberPtr(p.Price),
		Probability: numberPtr(p.Probability),
		Bids:        toLevels(p.Bids),
		Offers:      toLevels(p.Offers),
	}
	if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		out.Timestamp = ts
	} else if us, ok := numberFloat(p.UnixTimestamp); ok && us > 0 {
		out.Timestamp = time.UnixMicro(int64(us)).UTC()
	}
	var status string
	if len(p.Status) > 0 && string(p.Status) != "null" && json.Unmarshal(p.Status, &status) == nil {
		s := domain.MarketStatus(status)
		out.Status = &s
	}
	return out
}

// --------------------------------------------------------------------------
// Orders
// --------------------------------------------------------------------------

// APIUserOrder is the userOrder input of the confirmOrder mutation.
type APIUserOrder struct {
	MarketID  string `json:"marketId"`
	OrderType string `json:"orderType"`
	Action    string `json:"action"`
	Quantity  int64  `json:"quantity"`
	Price     *int64 `json:"price,omitempty"`
}

func fromUserOrder(o domain.UserOrder) APIUserOrder {
	out := APIUserOrder{
		MarketID:  o.MarketID,
		OrderType: string(o.Type),
		Action:    string(o.Action),
		Quantity:  o.Quantity,
	}
	if o.Type != domain.OrderTypeMarket {
		p := o.Price
		out.Price = &p
	}
	return out
}

// APIOrder is an order as returned by confirmOrder and order history.
type APIOrder struct {
	ID            string `json:"id"`
	MarketID      string `json:"marketId"`
	OrderType     string `json:"orderType"`
	Action        string `json:"action"`
	Price         int64  `json:"price"`
	Quantity      int64  `json:"quantity"`
	Status        string `json:"status"`
	TotalValue    int64  `json:"totalValue"`
	ClientOrderID string `json:"clientOrderId"`
	InsertedAt    string `json:"insertedAt"`
}

// ToDomain converts an APIOrder to a domain.Order.
func (o APIOrder) ToDomain() domain.Order {
	out := domain.Order{
		ID:       o.ID,
		MarketID: o.MarketID,
		Type:     domain.OrderType(o.OrderType),
		Action:   domain.OrderAction(o.Action),
		Price:    o.Price,
		Quantity: o.Quantity,
		Status:   domain.OrderStatus(o.Status),
	}
	if ts, err := time.Parse(time.RFC3339Nano, o.InsertedAt); err == nil {
		out.CreatedAt = ts
	}
	return out
}

// OrderHistory is one page of the account's orders.
type OrderHistory struct {
	TotalCount int
	Orders     []domain.Order
}

// --------------------------------------------------------------------------
// Account
// --------------------------------------------------------------------------

// UserProfile is the authenticated account's profile.
type UserProfile struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	City      string `json:"city"`
	Country   string `json:"country"`
}
