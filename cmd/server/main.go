// Package main runs the escrow server: engine, HTTP API, WebSocket event
// stream and metrics on one listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"htlc-escrow/internal/api"
	"htlc-escrow/internal/auth"
	"htlc-escrow/internal/config"
	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/escrow"
	"htlc-escrow/internal/events"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/storage"
	chstore "htlc-escrow/internal/storage/clickhouse"
	"htlc-escrow/internal/storage/memory"
	"htlc-escrow/internal/storage/migrations"
	pgstore "htlc-escrow/internal/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Parse flags (config values as defaults)
	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (empty disables the analytics sink)")
	useMemory := flag.Bool("use-memory", cfg.UseMemory, "Use in-memory storage instead of PostgreSQL")
	enableFaucet := flag.Bool("enable-faucet", cfg.EnableFaucet, "Expose POST /v1/faucet")
	factory := flag.String("factory", string(cfg.FactoryAddress), "Factory address seeding escrow account addresses")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, notice, error)")
	flag.Parse()

	cfg.HTTPAddr = *httpAddr
	cfg.PostgresDSN = *postgresDSN
	cfg.ClickhouseDSN = *clickhouseDSN
	cfg.UseMemory = *useMemory
	cfg.EnableFaucet = *enableFaucet
	cfg.FactoryAddress = domain.Address(*factory)
	if *logLevel != "" {
		level, err := logger.ParseLevel(*logLevel)
		if err != nil {
			log.Fatalf("--log-level: %v", err)
		}
		cfg.LoggerConfig.Level = level
	}

	lg := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
	if err := run(cfg, lg); err != nil {
		lg.With("server").Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg logger.Logger) error {
	slog := lg.With("server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, analytics, cleanup, err := createStores(ctx, cfg, lg)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	var authorizer auth.Authorizer = auth.NewEd25519Authorizer()
	if cfg.AuthMode == config.AuthModeAllowAll {
		slog.Notice("AUTH_MODE=%s: signatures are not checked", config.AuthModeAllowAll)
		authorizer = auth.AllowAll{}
	}

	hub := events.NewHub(nil, lg)
	sink := events.NewMulti(hub, events.NewLogSink(lg), analytics)

	engine, err := escrow.NewEngine(escrow.Config{
		FactoryAddress:    cfg.FactoryAddress,
		RescueDelay:       cfg.RescueDelay,
		RequireCancelAuth: cfg.RequireCancelAuth,
	}, backend, authorizer,
		escrow.WithClock(escrow.SystemClock{}),
		escrow.WithSink(sink),
		escrow.WithLogger(lg),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	hub.SetBacklog(api.Backlog(engine))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(engine, backend.Balances(), hub, api.Options{EnableFaucet: cfg.EnableFaucet}, lg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to signal completion
	done := make(chan struct{})
	defer close(done)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal %v, initiating graceful shutdown", sig)
		case <-done:
			return
		}

		hub.Close()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed: %v", err)
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			slog.Error("received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-done:
		}
	}()

	slog.Info("listening on %s (factory %s, memory=%t, faucet=%t)",
		cfg.HTTPAddr, cfg.FactoryAddress, cfg.UseMemory, cfg.EnableFaucet)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// createStores opens the storage backend and, when configured, the ClickHouse
// event sink. Pending migrations are applied on every start.
func createStores(ctx context.Context, cfg *config.Config, lg logger.Logger) (storage.Backend, events.Sink, func(), error) {
	var (
		backend  storage.Backend
		closers  []func()
		analytic events.Sink
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.UseMemory {
		backend = memory.NewDB()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		applied, err := migrations.ApplyPostgres(ctx, pool.Pool)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		logMigrations(lg, "postgres", applied)
		backend = pgstore.NewDB(pool)
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.Open(ctx, cfg.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })

		applied, err := migrations.ApplyClickhouse(ctx, conn)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logMigrations(lg, "clickhouse", applied)
		analytic = events.NewStoreSink("clickhouse", chstore.NewEventStore(conn), lg)
	}

	return backend, analytic, cleanup, nil
}

func logMigrations(lg logger.Logger, db string, applied []migrations.Migration) {
	if len(applied) == 0 {
		lg.Debug("%s schema up to date", db)
		return
	}
	for _, m := range applied {
		lg.Info("%s migration %03d_%s applied", db, m.Version, m.Name)
	}
}
