package stx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// heartbeatPeriod is how often a Phoenix heartbeat is sent.
	heartbeatPeriod = 30 * time.Second

	// eventBuffer is the capacity of a subscription's event channel.
	eventBuffer = 64

	phxJoin      = "phx_join"
	phxReply     = "phx_reply"
	phxClose     = "phx_close"
	phxError     = "phx_error"
	phxHeartbeat = "heartbeat"
	phxTopic     = "phoenix"
)

// Channel is a streaming channel offered by the exchange.
type Channel int

const (
	ChannelMarketInfo Channel = iota
	ChannelActiveOrders
	ChannelActivePositions
	ChannelActiveSettlements
	ChannelActiveTrades
	ChannelPortfolio
)

type channelDef struct {
	name    string
	private bool
}

var channels = [...]channelDef{
	ChannelMarketInfo:        {name: "market_info"},
	ChannelActiveOrders:      {name: "active_orders", private: true},
	ChannelActivePositions:   {name: "active_positions", private: true},
	ChannelActiveSettlements: {name: "active_settlements", private: true},
	ChannelActiveTrades:      {name: "active_trades", private: true},
	ChannelPortfolio:         {name: "portfolio", private: true},
}

// Channels returns every known channel in declaration order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	for i := range channels {
		out[i] = Channel(i)
	}
	return out
}

// ParseChannel maps a channel name such as "market_info" to its Channel.
func ParseChannel(name string) (Channel, error) {
	for i, def := range channels {
		if def.name == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("stx: unknown channel %q", name)
}

func (c Channel) valid() bool {
	return c >= 0 && int(c) < len(channels)
}

func (c Channel) String() string {
	if !c.valid() {
		return "unknown"
	}
	return channels[c].name
}

// Topic returns the Phoenix topic for the channel. Account channels are
// scoped to userID.
func (c Channel) Topic(userID string) string {
	def := channels[c]
	if def.private && userID != "" {
		return def.name + ":" + userID
	}
	return def.name
}

// TokenSource supplies the session token used to open the socket.
type TokenSource interface {
	Token() string
}

// ChannelClient opens Phoenix channel subscriptions over a WebSocket.
type ChannelClient struct {
	wsURL  string
	tokens TokenSource
	userID string
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewChannelClient creates a ChannelClient.
//
// wsURL is the socket endpoint, e.g. "wss://api-staging.on.sportsxapp.com/socket/websocket".
func NewChannelClient(wsURL string, tokens TokenSource, logger *slog.Logger) *ChannelClient {
	return &ChannelClient{
		wsURL:  wsURL,
		tokens: tokens,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "stx.channel")),
	}
}

// SetUserID scopes account channels to userID.
func (c *ChannelClient) SetUserID(userID string) {
	c.userID = userID
}

// SubscribeMarketInfo joins the market_info channel.
func (c *ChannelClient) SubscribeMarketInfo(ctx context.Context) (<-chan domain.StreamEvent, error) {
	return c.Subscribe(ctx, ChannelMarketInfo)
}

// Subscribe connects, joins ch and returns its events in arrival order:
// EventOpen once the join is acknowledged, EventMessage per frame, then a
// single EventClose or EventError after which the channel is closed. The
// subscription ends when ctx is done.
func (c *ChannelClient) Subscribe(ctx context.Context, ch Channel) (<-chan domain.StreamEvent, error) {
	if !ch.valid() {
		return nil, fmt.Errorf("stx/channel: invalid channel %d", int(ch))
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stx/channel: connect: %w: %w", domain.ErrWSDisconnect, err)
	}

	s := &session{
		conn:    conn,
		channel: ch,
		topic:   ch.Topic(c.userID),
		out:     make(chan domain.StreamEvent, eventBuffer),
		done:    make(chan struct{}),
		logger:  c.logger.With(slog.String("channel", ch.String())),
	}

	s.joinRef = s.nextRef()
	if err := s.send(frame{joinRef: &s.joinRef, ref: &s.joinRef, topic: s.topic, event: phxJoin}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stx/channel: join %s: %w", s.topic, err)
	}

	go s.pingLoop()
	go s.readLoop(ctx)

	return s.out, nil
}

func (c *ChannelClient) endpoint() (string, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return "", fmt.Errorf("stx/channel: parse url: %w", err)
	}
	q := u.Query()
	q.Set("vsn", "2.0.0")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			q.Set("token", token)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// frame is a Phoenix v2 message: [join_ref, ref, topic, event, payload].
type frame struct {
	joinRef *string
	ref     *string
	topic   string
	event   string
	payload json.RawMessage
}

func (f frame) MarshalJSON() ([]byte, error) {
	payload := f.payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]any{f.joinRef, f.ref, f.topic, f.event, payload})
}

func (f *frame) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 5 {
		return fmt.Errorf("expected 5 frame elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &f.joinRef); err != nil {
		return fmt.Errorf("join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &f.ref); err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	if err := json.Unmarshal(parts[2], &f.topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &f.event); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	f.payload = parts[4]
	return nil
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type session struct {
	conn    *websocket.Conn
	channel Channel
	topic   string
	joinRef string
	refs    atomic.Int64

	writeMu sync.Mutex
	out     chan domain.StreamEvent
	done    chan struct{}
	logger  *slog.Logger
}

func (s *session) nextRef() string {
	return strconv.FormatInt(s.refs.Add(1), 10)
}

func (s *session) send(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// emit delivers ev unless ctx is done.
func (s *session) emit(ctx context.Context, ev domain.StreamEvent) bool {
	select {
	case s.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// readLoop is the only reader of the connection and the only writer of out,
// so events keep transport order.
func (s *session) readLoop(ctx context.Context) {
	defer func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.writeMu.Unlock()
		s.conn.Close()
		close(s.out)
	}()

	// Unblock ReadMessage when the subscriber goes away.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(ctx, domain.StreamEvent{Kind: domain.EventClose, Reason: err.Error()})
				return
			}
			s.emit(ctx, domain.StreamEvent{
				Kind: domain.EventError,
				Err:  fmt.Errorf("stx/channel: read: %w: %w", domain.ErrWSDisconnect, err),
			})
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}

		if !s.handle(ctx, f) {
			return
		}
	}
}

// handle routes one frame. It returns false once the subscription is over.
func (s *session) handle(ctx context.Context, f frame) bool {
	switch {
	case f.topic == phxTopic:
		// Heartbeat replies.
		return true

	case f.topic != s.topic:
		s.logger.DebugContext(ctx, "frame for another topic", slog.String("topic", f.topic))
		return true

	case f.event == phxReply && f.ref != nil && *f.ref == s.joinRef:
		var reply replyPayload
		if err := json.Unmarshal(f.payload, &reply); err != nil || reply.Status != "ok" {
			s.emit(ctx, domain.StreamEvent{
				Kind: domain.EventError,
				Err:  fmt.Errorf("stx/channel: join %s rejected: %s", s.topic, string(f.payload)),
			})
			return false
		}
		s.logger.InfoContext(ctx, "joined channel", slog.String("topic", s.topic))
		return s.emit(ctx, domain.StreamEvent{Kind: domain.EventOpen})

	case f.event == phxReply:
		return true

	case f.event == phxClose:
		s.emit(ctx, domain.StreamEvent{Kind: domain.EventClose, Reason: "channel closed by server"})
		return false

	case f.event == phxError:
		s.emit(ctx, domain.StreamEvent{
			Kind: domain.EventError,
			Err:  fmt.Errorf("stx/channel: server error on %s: %s", s.topic, string(f.payload)),
		})
		return false

	default:
		return s.emit(ctx, s.message(f))
	}
}

func (s *session) message(f frame) domain.StreamEvent {
	msg := &domain.ChannelMessage{
		Message: "Message received",
		Topic:   f.topic,
		Event:   f.event,
		Payload: f.payload,
	}
	ev := domain.StreamEvent{Kind: domain.EventMessage, Raw: msg}
	if s.channel != ChannelMarketInfo {
		return ev
	}

	update, err := DecodeMarketUpdate(msg)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Update = update
	return ev
}

// DecodeMarketUpdate decodes a market_info frame. A null or absent payload
// yields an update with nil Markets. Each market entry is decoded on its own,
// so one malformed entry does not spoil the others; it is reported in
// Invalid. Only a payload that is not an object fails as a whole.
func DecodeMarketUpdate(msg *domain.ChannelMessage) (*domain.MarketUpdate, error) {
	update := &domain.MarketUpdate{
		Closed:  msg.Closed,
		Message: msg.Message,
		Event:   msg.Event,
	}
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return update, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &entries); err != nil {
		return nil, fmt.Errorf("stx/channel: decode market_info payload: %w", err)
	}
	update.Markets = make(map[string]domain.PartialMarket, len(entries))
	for k, raw := range entries {
		var pm APIPartialMarket
		if err := json.Unmarshal(raw, &pm); err != nil {
			if update.Invalid == nil {
				update.Invalid = make(map[string]error)
			}
			update.Invalid[k] = fmt.Errorf("stx/channel: decode market %s: %w", k, err)
			continue
		}
		update.Markets[k] = pm.ToDomain()
	}
	return update, nil
}

// pingLoop sends Phoenix heartbeats until the session ends.
func (s *session) pingLoop() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ref := s.nextRef()
			if err := s.send(frame{ref: &ref, topic: phxTopic, event: phxHeartbeat}); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}
