package domain

import "encoding/json"

// Market update event types carried on the market_info channel.
const (
	EventMarketUpdated = "market_updated"
	EventMarketCreated = "market_created"
)

// ChannelMessage is one decoded frame from a streaming channel.
type ChannelMessage struct {
	Closed  bool
	Message string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarketUpdate is the market_info view of a ChannelMessage. Markets is nil
// when the frame had no payload. Entries that could not be decoded are
// left out of Markets and listed in Invalid under the same key.
type MarketUpdate struct {
	Closed  bool
	Message string
	Event   string
	Markets map[string]PartialMarket
	Invalid map[string]error
}

// StreamEventKind enumerates what a streaming subscription can deliver.
type StreamEventKind int

const (
	EventOpen StreamEventKind = iota
	EventMessage
	EventClose
	EventError
)

func (k StreamEventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is a single item delivered by a subscription, in transport
// order. Update is set for EventMessage on the market_info channel, Raw for
// every EventMessage, Reason for EventClose and Err for EventError. An
// EventMessage whose payload could not be decoded carries Err and no Update.
type StreamEvent struct {
	Kind   StreamEventKind
	Update *MarketUpdate
	Raw    *ChannelMessage
	Reason string
	Err    error
}
