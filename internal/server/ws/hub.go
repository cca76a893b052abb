// Package ws streams bandit events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// filterMsg lets a client pick the event kinds it receives, e.g.
// {"action":"subscribe","kinds":["decision","update"]}. A fresh client gets
// every kind.
type filterMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter kindFilter
}

// kindFilter is either "all kinds except set" or "only the kinds in set".
// subscribe switches to the allow-list form, unsubscribe always removes
// kinds from what is delivered, all restores the default.
type kindFilter struct {
	only bool
	set  map[string]bool
}

func (f *kindFilter) allows(kind string) bool {
	if f.only {
		return f.set[kind]
	}
	return !f.set[kind]
}

func (f *kindFilter) apply(action string, kinds []string) {
	switch action {
	case "subscribe":
		if !f.only {
			f.only = true
			f.set = make(map[string]bool, len(kinds))
		}
		for _, k := range kinds {
			f.set[k] = true
		}
	case "unsubscribe":
		if f.set == nil {
			f.set = make(map[string]bool, len(kinds))
		}
		for _, k := range kinds {
			if f.only {
				delete(f.set, k)
			} else {
				f.set[k] = true
			}
		}
	case "all":
		f.only = false
		f.set = nil
	}
}

// Config describes the running process for the hello frame.
type Config struct {
	Mode      string
	Strategy  string
	Chains    []string
	StartedAt time.Time
}

// Hub fans bandit events out to WebSocket clients. Events arrive either
// directly through Emit (single process) or from a SignalBus channel fed by
// other processes.
type Hub struct {
	bus     domain.SignalBus // optional
	channel string
	cfg     Config
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. With a non-nil bus, Run relays channel to clients.
func NewHub(bus domain.SignalBus, channel string, cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		channel: channel,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
}

// Emit implements bandit.Sink.
func (h *Hub) Emit(_ context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.broadcast(string(ev.Kind), data)
}

// Run relays bus messages until ctx is done, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.channel != "" {
		msgs, err := h.bus.Subscribe(ctx, h.channel)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed", slog.String("channel", h.channel), slog.String("error", err.Error()))
		} else {
			go h.relay(ctx, msgs)
		}
	}

	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("event subscription closed", slog.String("channel", h.channel))
				return
			}
			var head struct {
				Kind string `json:"kind"`
			}
			_ = json.Unmarshal(data, &head)
			h.broadcast(head.Kind, data)
		}
	}
}

func (h *Hub) broadcast(kind string, payload []byte) {
	frame, err := json.Marshal(envelope{Type: "bandit_event", Payload: payload})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(kind) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total_clients", total))

	c.sendHello()
	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("total_clients", total))
}

func (c *client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.allows(kind)
}

func (c *client) sendHello() {
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.cfg.Mode,
		"strategy":       c.hub.cfg.Strategy,
		"chains":         c.hub.cfg.Chains,
		"uptime_seconds": max(0, int64(time.Since(c.hub.cfg.StartedAt).Seconds())),
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Type: "hello", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) == nil {
			c.applyFilter(msg)
		}
	}
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.apply(msg.Action, msg.Kinds)
}

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
