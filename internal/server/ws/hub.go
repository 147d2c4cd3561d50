// Package ws relays committed program events from the signal bus to
// WebSocket clients as protobuf-encoded google.protobuf.Struct binary frames.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// maxReplay bounds the backlog sent to a client that passes ?since=.
	maxReplay = 200
)

// upgrader configures the WebSocket upgrade parameters. Origins are already
// filtered by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// filter selects the events a client receives. Empty sets match everything.
type filter struct {
	matches map[uint64]bool
	kinds   map[domain.EventKind]bool
}

func (f filter) accepts(msg domain.EventMessage) bool {
	if len(f.kinds) > 0 && !f.kinds[msg.Event.Kind] {
		return false
	}
	if len(f.matches) > 0 && !f.matches[msg.Event.MatchID] {
		return false
	}
	return true
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter filter
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its filter.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe", "unsubscribe" or "reset"
	MatchIDs []uint64 `json:"match_ids"`
	Events   []string `json:"events"`
}

// Config captures runtime metadata used in the status frame sent to clients
// on connect.
type Config struct {
	Mode      string
	ProgramID domain.Address
	StartedAt time.Time
}

// Hub manages a set of connected WebSocket clients and broadcasts events
// from the signal bus to every client whose filter accepts them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan event
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	cfg        Config
}

// event is a decoded bus message and its encoded frame.
type event struct {
	msg   domain.EventMessage
	frame []byte
}

// NewHub creates a new WebSocket hub that bridges a SignalBus to connected
// WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		cfg:        cfg,
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when ctx is cancelled.
// Connected clients are sent a close frame on exit. Run must be called once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, domain.EventsChannel)
	if err != nil {
		return fmt.Errorf("ws: subscribe: %w", err)
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.EventsChannel))
	go h.relay(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			clear(h.clients)
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.accepts(ev.msg) {
					continue
				}
				select {
				case c.send <- ev.frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay decodes bus payloads and hands them to the broadcast loop.
func (h *Hub) relay(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.EventsChannel),
				)
				return
			}
			ev, err := decodeEvent(data, "")
			if err != nil {
				h.logger.Warn("ws: dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decodeEvent parses a bus payload into its message and binary frame.
// streamID is set on replayed events.
func decodeEvent(data []byte, streamID string) (event, error) {
	var msg domain.EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return event{}, fmt.Errorf("ws: decode event: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return event{}, fmt.Errorf("ws: decode event: %w", err)
	}
	if streamID != "" {
		fields["stream_id"] = streamID
		fields["replay"] = true
	}
	frame, err := encodeFrame("event", fields)
	if err != nil {
		return event{}, err
	}
	return event{msg: msg, frame: frame}, nil
}

// encodeFrame marshals payload as a google.protobuf.Struct tagged with type.
func encodeFrame(kind string, payload map[string]any) ([]byte, error) {
	payload["type"] = kind
	s, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("ws: encode frame: %w", err)
	}
	return proto.Marshal(s)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Query parameters match_id and event (repeatable)
// seed the filter; since replays the event stream after that stream id.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: f,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendStatus()
	go c.writePump()
	if since := r.URL.Query().Get("since"); since != "" {
		c.replay(r.Context(), since)
	}
	go c.readPump()
}

func parseFilter(r *http.Request) (filter, error) {
	q := r.URL.Query()
	f := filter{matches: map[uint64]bool{}, kinds: map[domain.EventKind]bool{}}
	for _, v := range q["match_id"] {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter{}, fmt.Errorf("invalid match_id %q", v)
		}
		f.matches[id] = true
	}
	for _, v := range q["event"] {
		f.kinds[domain.EventKind(v)] = true
	}
	return f, nil
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) accepts(msg domain.EventMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.accepts(msg)
}

// readPump reads filter updates (JSON text frames) from the connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a filter update from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, id := range msg.MatchIDs {
			c.filter.matches[id] = true
		}
		for _, k := range msg.Events {
			c.filter.kinds[domain.EventKind(k)] = true
		}
	case "unsubscribe":
		for _, id := range msg.MatchIDs {
			delete(c.filter.matches, id)
		}
		for _, k := range msg.Events {
			delete(c.filter.kinds, domain.EventKind(k))
		}
	case "reset":
		c.filter = filter{matches: map[uint64]bool{}, kinds: map[domain.EventKind]bool{}}
	}
}

// sendStatus pushes a status frame so clients can mark the connection as
// healthy before any event flows.
func (c *client) sendStatus() {
	frame, err := encodeFrame("hub_status", map[string]any{
		"mode":           c.hub.cfg.Mode,
		"program_id":     c.hub.cfg.ProgramID.Hex(),
		"uptime_seconds": max(0, time.Since(c.hub.cfg.StartedAt).Seconds()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// replay queues stream entries after since that pass the client's filter.
// Replayed frames carry stream_id and may interleave with live frames.
func (c *client) replay(ctx context.Context, since string) {
	msgs, err := c.hub.bus.StreamRead(ctx, domain.EventsStream, since, maxReplay)
	if err != nil {
		c.hub.logger.WarnContext(ctx, "ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		ev, err := decodeEvent(m.Payload, m.ID)
		if err != nil || !c.accepts(ev.msg) {
			continue
		}
		select {
		case c.send <- ev.frame:
		default:
			return
		}
	}
}

// writePump sends binary frames from the hub and periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
