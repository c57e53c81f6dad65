package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderAction is the side of an order. The bot only ever buys.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "BUY"
	OrderActionSell OrderAction = "SELL"
)

// OrderStatus is the exchange-reported order state.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusPending   OrderStatus = "PENDING"
)

// UserOrder is the request body for placing an order.
type UserOrder struct {
	MarketID string
	Type     OrderType
	Action   OrderAction
	Quantity int64
	Price    int64 // ignored for MARKET orders
}

// ParseOrderType accepts MARKET or LIMIT in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch t := OrderType(strings.ToUpper(strings.TrimSpace(s))); t {
	case OrderTypeMarket, OrderTypeLimit:
		return t, nil
	}
	return "", fmt.Errorf("%w: order type %q", ErrInvalidOrder, s)
}

// ParseOrderAction accepts BUY or SELL in any case.
func ParseOrderAction(s string) (OrderAction, error) {
	switch a := OrderAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case OrderActionBuy, OrderActionSell:
		return a, nil
	}
	return "", fmt.Errorf("%w: order action %q", ErrInvalidOrder, s)
}

// Validate checks the order before it is sent. LIMIT orders need a positive
// price; MARKET orders take whatever the book offers.
func (o UserOrder) Validate() error {
	switch {
	case o.MarketID == "":
		return fmt.Errorf("%w: market id is required", ErrInvalidOrder)
	case o.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidOrder, o.Quantity)
	case o.Type == OrderTypeLimit && o.Price <= 0:
		return fmt.Errorf("%w: limit price %d", ErrInvalidOrder, o.Price)
	case o.Type != OrderTypeLimit && o.Type != OrderTypeMarket:
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, o.Type)
	case o.Action != OrderActionBuy && o.Action != OrderActionSell:
		return fmt.Errorf("%w: order action %q", ErrInvalidOrder, o.Action)
	}
	return nil
}

// Order is the exchange's view of a placed order. ID is assigned by the
// exchange on creation.
type Order struct {
	ID        string      `json:"id"`
	MarketID  string      `json:"market_id"`
	Type      OrderType   `json:"type"`
	Action    OrderAction `json:"action"`
	Price     int64       `json:"price"`
	Quantity  int64       `json:"quantity"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Total returns the notional value of the order.
func (o Order) Total() int64 {
	return o.Price * o.Quantity
}
