// Package api exposes the escrow engine over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/escrow"
	"htlc-escrow/internal/events"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
)

// Options toggles optional endpoints.
type Options struct {
	// EnableFaucet exposes POST /v1/faucet, which mints tokens to anyone.
	EnableFaucet bool
}

// Server serves the HTTP API.
type Server struct {
	engine    *escrow.Engine
	balances  storage.BalanceStore
	hub       *events.Hub
	opts      Options
	log       logger.Logger
	startedAt time.Time
}

// NewServer creates the API. hub may be nil to disable the event stream.
func NewServer(engine *escrow.Engine, balances storage.BalanceStore, hub *events.Hub, opts Options, log logger.Logger) *Server {
	return &Server{
		engine:    engine,
		balances:  balances,
		hub:       hub,
		opts:      opts,
		log:       log.With("api"),
		startedAt: time.Now(),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/escrows", s.handleListEscrows)
		api.Post("/escrows", s.handleCreate)
		api.Post("/escrows/address", s.handleAddress)
		api.Get("/escrows/{id}", s.handleGet)
		api.Get("/escrows/{id}/events", s.handleEvents)
		api.Post("/escrows/{id}/withdraw", s.handleWithdraw)
		api.Post("/escrows/{id}/cancel", s.handleCancel)
		api.Post("/escrows/{id}/rescue", s.handleRescue)

		api.Get("/balances/{token}/{owner}", s.handleBalance)
		if s.opts.EnableFaucet {
			api.Post("/faucet", s.handleFaucet)
		}

		if s.hub != nil {
			api.Handle("/events/ws", s.hub)
		}
	})

	return r
}

// instrument records request count and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

// Backlog replays stored events matching a new subscriber's filter. A
// subscriber without a filter only sees live events.
func Backlog(engine *escrow.Engine) events.BacklogFunc {
	return func(ctx context.Context, f events.Filter) ([]*domain.Event, error) {
		var ids []string
		switch {
		case f.EscrowID != "":
			ids = []string{f.EscrowID}
		case f.Hashlock != nil:
			escrows, err := engine.FindByHashlock(ctx, *f.Hashlock)
			if err != nil {
				return nil, err
			}
			for _, esc := range escrows {
				ids = append(ids, esc.ID)
			}
		default:
			return nil, nil
		}

		var out []*domain.Event
		for _, id := range ids {
			evs, err := engine.Events(ctx, id)
			if errors.Is(err, escrow.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, ev := range evs {
				if f.Matches(ev) {
					out = append(out, ev)
				}
			}
		}
		return out, nil
	}
}
