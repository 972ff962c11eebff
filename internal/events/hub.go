package events

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/observability"
)

// HubConfig configures WebSocket subscriber handling.
type HubConfig struct {
	// SendBuffer is the per-subscriber queue length; events beyond it are dropped.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a subscriber may stay silent, pongs included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Filter selects the events a subscriber receives. Empty fields match everything.
type Filter struct {
	EscrowID string
	Hashlock *domain.Hash32
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e *domain.Event) bool {
	if f.EscrowID != "" && e.EscrowID != f.EscrowID {
		return false
	}
	if f.Hashlock != nil && e.Hashlock != *f.Hashlock {
		return false
	}
	return true
}

// ParseFilter reads escrow_id and hashlock query parameters.
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{EscrowID: strings.TrimSpace(q.Get("escrow_id"))}
	if h := strings.TrimSpace(q.Get("hashlock")); h != "" {
		parsed, err := domain.ParseHash32(h)
		if err != nil {
			return Filter{}, err
		}
		f.Hashlock = &parsed
	}
	return f, nil
}

// BacklogFunc loads already-committed events for a new subscriber.
type BacklogFunc func(ctx context.Context, f Filter) ([]*domain.Event, error)

// Hub streams events to WebSocket subscribers.
type Hub struct {
	config   HubConfig
	log      logger.Logger
	upgrader websocket.Upgrader
	backlog  BacklogFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

type client struct {
	conn   *websocket.Conn
	filter Filter
	send   chan *domain.Event
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a hub. A nil config uses DefaultHubConfig.
func NewHub(config *HubConfig, log logger.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	return &Hub{
		config: cfg,
		log:    log.With("hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetBacklog makes new subscribers first receive matching stored events.
// Events committed while the backlog is sent may arrive twice; consumers dedupe by id.
func (h *Hub) SetBacklog(fn BacklogFunc) {
	h.backlog = fn
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues events for matching subscribers without blocking.
func (h *Hub) Publish(_ context.Context, evs ...*domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range evs {
		if e == nil {
			continue
		}
		for c := range h.clients {
			if !c.filter.Matches(e) {
				continue
			}
			select {
			case c.send <- e:
			default:
				observability.RecordEventDropped("ws")
				h.log.Debug("subscriber queue full, dropped event %s", e.ID)
			}
		}
	}
}

// ServeHTTP upgrades the request and streams matching events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}
	filter, err := ParseFilter(r)
	if err != nil {
		http.Error(w, "invalid hashlock: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		filter: filter,
		send:   make(chan *domain.Event, h.config.SendBuffer),
		done:   make(chan struct{}),
	}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"),
			time.Now().Add(h.config.WriteTimeout))
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)

	if h.backlog != nil {
		evs, err := h.backlog(r.Context(), filter)
		if err != nil {
			h.log.Error("load backlog: %v", err)
		}
		for _, e := range evs {
			select {
			case c.send <- e:
			case <-c.done:
				return
			}
		}
	}
}

// register adds c and counts its two loops, unless the hub is closed.
// Close flips closed under the same lock, so no Add follows its Wait.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetWSClients(n)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	observability.SetWSClients(n)
}

// writeLoop sends queued events and pings.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer func() {
		h.unregister(c)
		c.close()
		c.conn.Close()
	}()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteJSON(e); err != nil {
				h.log.Debug("write event: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound messages and notices when the peer goes away.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.log.Debug("read: %v", err)
			}
			return
		}
	}
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed.Swap(true) {
		h.mu.Unlock()
		return nil
	}
	for c := range h.clients {
		c.close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}

var _ Sink = (*Hub)(nil)
