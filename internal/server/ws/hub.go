// Package ws streams assessments to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// allSymbols subscribes a client to every symbol.
	allSymbols = "*"
)

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // symbols or "PREFIX*" patterns
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its symbols.
type subscribeMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

// envelope is the frame format sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type outbound struct {
	symbol string
	data   []byte
}

// Config captures the hub's feed and the metadata sent to clients on connect.
type Config struct {
	// Channel is the pub/sub channel carrying assessments. When empty, or
	// when the hub has no bus, assessments arrive through Send only.
	Channel   string
	StartedAt time.Time
	// Status, if set, contributes fields to the status frame sent on connect.
	Status func() map[string]any
	// CheckOrigin overrides the upgrader's same-origin check.
	CheckOrigin func(r *http.Request) bool
}

// Hub manages the connected WebSocket clients and fans assessments out to the
// clients subscribed to their symbol.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	cfg        Config
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	dropLog    rate.Sometimes
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		dropLog: rate.Sometimes{Interval: 10 * time.Second},
		logger:  logger.With(slog.String("component", "ws")),
	}
}

// Send queues an assessment for broadcast without blocking the caller. When
// the hub is saturated the assessment is dropped for all clients.
func (h *Hub) Send(a domain.Assessment) {
	data, err := json.Marshal(envelope{Type: "assessment", Payload: a})
	if err != nil {
		h.logger.Error("encode assessment", slog.String("error", err.Error()))
		return
	}
	h.enqueue(outbound{symbol: a.Symbol, data: data})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropLog.Do(func() {
			h.logger.Warn("ws: broadcast queue full, dropping", slog.String("symbol", msg.symbol))
		})
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.bus != nil && h.cfg.Channel != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.symbol) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.dropLog.Do(func() {
						h.logger.Warn("ws: dropping message for slow client")
					})
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards assessments published on the bus so every instance's
// clients see every instance's verdicts.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", h.cfg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", h.cfg.Channel))
				return
			}
			var a domain.Assessment
			if err := json.Unmarshal(data, &a); err != nil {
				h.logger.Warn("ws: undecodable assessment", slog.String("error", err.Error()))
				continue
			}
			h.Send(a)
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The optional symbols query parameter narrows the
// initial subscription (comma separated).
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: initialSubs(r.URL.Query().Get("symbols")),
	}

	c.sendStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func initialSubs(raw string) map[string]bool {
	subs := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			subs[s] = true
		}
	}
	if len(subs) == 0 {
		subs[allSymbols] = true
	}
	return subs
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes from the client until the connection
// fails or closes.
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			continue
		}
		c.handleSubscription(sub)
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Symbols {
			c.subs[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Symbols {
			delete(c.subs, s)
		}
	}
}

// sendStatus pushes a small JSON envelope so clients can immediately mark
// the connection as healthy even when no assessments are flowing yet.
func (c *client) sendStatus() {
	payload := map[string]any{}
	if c.hub.cfg.Status != nil {
		for k, v := range c.hub.cfg.Status() {
			payload[k] = v
		}
	}
	payload["uptime_seconds"] = max(int64(time.Since(c.hub.cfg.StartedAt).Seconds()), 0)
	c.mu.RLock()
	symbols := make([]string, 0, len(c.subs))
	for s := range c.subs {
		symbols = append(symbols, s)
	}
	c.mu.RUnlock()
	payload["symbols"] = symbols

	msg, err := json.Marshal(envelope{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client wants assessments for symbol.
func (c *client) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[allSymbols] || c.subs[symbol] {
		return true
	}
	// Prefix match: "BTC-*" matches "BTC-USD".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(symbol, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps queued messages to the connection as text frames and
// sends periodic pings for keepalive.
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
