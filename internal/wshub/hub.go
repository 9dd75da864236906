// Package wshub fans published lifecycle events out to WebSocket clients
// and keeps a bounded per-collection replay buffer so a client reconnecting
// after a transient network failure can catch up on recent history.
package wshub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydocs/ingestor/internal/events"
	"github.com/relaydocs/ingestor/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer via ALLOWED_ORIGINS
	},
}

// replayEntry is one frame retained for reconnect replay.
type replayEntry struct {
	event events.Event
	at    time.Time
}

// replayRing is a bounded, age-limited ring of recent frames for one
// collection.
type replayRing struct {
	entries []replayEntry
	cap     int
	ttl     time.Duration
}

func newReplayRing(capacity int, ttl time.Duration) *replayRing {
	return &replayRing{cap: capacity, ttl: ttl}
}

func (r *replayRing) add(e events.Event) {
	r.entries = append(r.entries, replayEntry{event: e, at: time.Now()})
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *replayRing) snapshot() []events.Event {
	cutoff := time.Now().Add(-r.ttl)
	out := make([]events.Event, 0, len(r.entries))
	for _, e := range r.entries {
		if e.at.Before(cutoff) {
			continue
		}
		out = append(out, e.event)
	}
	return out
}

// Client is a middleman between one WebSocket connection and the Hub.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	collectionID string // "" means subscribed to every collection
	backlogDrops int
}

// Hub maintains the set of connected clients, fans out broadcast events,
// and retains a bounded replay buffer per collection.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	replayMu     sync.Mutex
	replay       map[string]*replayRing
	replayCap    int
	replayTTL    time.Duration

	backlogLimit int
}

// Config controls replay-buffer sizing and per-client backlog tolerance.
type Config struct {
	ReplayCapacity int           // frames retained per collection; default 64
	ReplayTTL      time.Duration // max age of a replayed frame; default 10m
	BacklogLimit   int           // consecutive dropped sends before disconnect; default 8
}

// New creates a Hub, ready to serve requests immediately.
func New(cfg Config) *Hub {
	if cfg.ReplayCapacity <= 0 {
		cfg.ReplayCapacity = 64
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 10 * time.Minute
	}
	if cfg.BacklogLimit <= 0 {
		cfg.BacklogLimit = 8
	}
	return &Hub{
		clients:      make(map[*Client]bool),
		replay:       make(map[string]*replayRing),
		replayCap:    cfg.ReplayCapacity,
		replayTTL:    cfg.ReplayTTL,
		backlogLimit: cfg.BacklogLimit,
	}
}

// Broadcast serializes e once and writes it to every client whose
// subscription matches e's collection (global events with an empty
// CollectionID, like QUEUE_FULL, reach every client). It also records e in
// the replay buffer for its collection so late joiners can catch up.
func (h *Hub) Broadcast(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("wshub: marshal event failed", "type", e.Type, "error", err)
		return
	}

	if e.CollectionID != "" {
		h.replayMu.Lock()
		ring, ok := h.replay[e.CollectionID]
		if !ok {
			ring = newReplayRing(h.replayCap, h.replayTTL)
			h.replay[e.CollectionID] = ring
		}
		ring.add(e)
		h.replayMu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.collectionID != "" && e.CollectionID != "" && c.collectionID != e.CollectionID {
			continue
		}
		select {
		case c.send <- payload:
			c.backlogDrops = 0
		default:
			c.backlogDrops++
			if c.backlogDrops >= h.backlogLimit {
				slog.Warn("wshub: dropping slow client", "backlog", c.backlogDrops)
				go h.disconnect(c)
			}
		}
	}
}

// PruneExpired drops replay rings whose every entry has aged out, freeing
// the map entries for collections with no recent activity. Returns the
// number of collections removed. Intended to be called periodically by
// the maintenance sweep rather than relying solely on Replay's lazy
// filtering, which leaves empty rings allocated indefinitely for
// long-idle collections.
func (h *Hub) PruneExpired() int {
	h.replayMu.Lock()
	defer h.replayMu.Unlock()
	removed := 0
	for id, ring := range h.replay {
		if len(ring.snapshot()) == 0 {
			delete(h.replay, id)
			removed++
		}
	}
	return removed
}

// Replay returns the retained frames for collectionID, oldest first.
func (h *Hub) Replay(collectionID string) []events.Event {
	h.replayMu.Lock()
	defer h.replayMu.Unlock()
	ring, ok := h.replay[collectionID]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.WebSocketConnections.Dec()
	}
}

func (h *Hub) disconnect(c *Client) {
	h.unregister(c)
	c.conn.Close()
}

// ActiveConnections returns the current connected-client count. The
// Prometheus gauge in internal/metrics is maintained separately, in
// register and unregister.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a WebSocket connection and starts the
// client's read/write pumps. An optional collectionId query parameter
// scopes the client to one collection's events (plus global frames); when
// absent the client receives every collection's events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("wshub: upgrade failed", "error", err)
		return
	}

	collectionID := r.URL.Query().Get("collectionId")
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), collectionID: collectionID}
	h.register(c)

	if collectionID != "" {
		for _, e := range h.Replay(collectionID) {
			if payload, err := json.Marshal(e); err == nil {
				select {
				case c.send <- payload:
				default:
				}
			}
		}
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("wshub: client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
