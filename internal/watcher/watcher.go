// Package watcher follows another escrow server's event stream so an
// off-chain participant can learn a secret as soon as it is revealed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/events"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/observability"
)

// ErrStreamClosed is returned when the stream ends before the awaited event.
var ErrStreamClosed = errors.New("event stream closed")

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration
	// ReadTimeout is how long the stream may stay silent, server pings included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
	// Buffer is the length of the subscription channel.
	Buffer int
}

// DefaultConfig returns default watcher configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            256,
	}
}

// Client subscribes to an escrow server's /v1/events/ws endpoint.
type Client struct {
	endpoint string
	config   Config
	log      logger.Logger
	dialer   websocket.Dialer
}

// New creates a client for endpoint (ws:// or wss:// URL of the event stream).
// A nil config uses DefaultConfig.
func New(endpoint string, config *Config, log logger.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}

	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	return &Client{
		endpoint: endpoint,
		config:   cfg,
		log:      log.With("watcher"),
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Subscribe streams events matching filter until ctx is done, reconnecting
// with exponential backoff. The server replays stored events on every
// connect; the client drops ids it already delivered. The first dial must
// succeed. The returned channel is closed when the stream ends.
func (c *Client) Subscribe(ctx context.Context, filter events.Filter) (<-chan *domain.Event, error) {
	target, err := c.streamURL(filter)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Event, c.config.Buffer)
	go c.run(ctx, target, conn, out)
	return out, nil
}

// WaitForSecret blocks until a withdrawal publishing a secret that unlocks
// hashlock is observed.
func (c *Client) WaitForSecret(ctx context.Context, hashlock domain.Hash32) (domain.Secret, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.Subscribe(ctx, events.Filter{Hashlock: &hashlock})
	if err != nil {
		return domain.Secret{}, err
	}

	for ev := range stream {
		if ev.Type != domain.EventWithdrawn || ev.Secret == nil {
			continue
		}
		if !hashlock.Unlocks(*ev.Secret) {
			c.log.Notice("escrow %s published a secret not matching %s", ev.EscrowID, hashlock)
			continue
		}
		c.log.Info("secret for %s revealed by escrow %s", hashlock, ev.EscrowID)
		observability.RecordSecretObserved()
		return *ev.Secret, nil
	}

	if err := ctx.Err(); err != nil {
		return domain.Secret{}, err
	}
	return domain.Secret{}, ErrStreamClosed
}

func (c *Client) streamURL(filter events.Filter) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if filter.EscrowID != "" {
		q.Set("escrow_id", filter.EscrowID)
	}
	if filter.Hashlock != nil {
		q.Set("hashlock", filter.Hashlock.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.config.WriteTimeout))
	})
	return conn, nil
}

// run owns conn and every replacement connection.
func (c *Client) run(ctx context.Context, target string, conn *websocket.Conn, out chan<- *domain.Event) {
	defer close(out)

	seen := make(map[string]struct{})
	delay := c.config.ReconnectDelay

	for {
		err := c.read(ctx, conn, seen, out)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Notice("event stream interrupted: %v", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > c.config.MaxReconnectDelay {
				delay = c.config.MaxReconnectDelay
			}

			conn, err = c.dial(ctx, target)
			if err == nil {
				break
			}
			c.log.Debug("reconnect failed: %v", err)
		}

		delay = c.config.ReconnectDelay
	}
}

// read delivers events from conn until it fails or ctx is done.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, seen map[string]struct{}, out chan<- *domain.Event) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return err
		}

		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}

		select {
		case out <- &ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
