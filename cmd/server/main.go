package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/atc-online/internal/api"
	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/facility"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/relay"
	"github.com/saviobatista/atc-online/internal/snapshot"
	"github.com/saviobatista/atc-online/internal/vatis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := redis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}()

	table, err := facility.Open(cfg.FacilityFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = facility.SeedStatic(ctx, store, table)
	cancel()
	if err != nil {
		return err
	}

	handler, r := newServer(cfg, store)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logging.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
	return serve(srv, r, sigChan)
}

// Store is the Redis surface the HTTP server reads and writes
type Store interface {
	relay.Subscriber
	snapshot.Store
	vatis.Store
	api.Pinger
}

// HTTPServer is the subset of *http.Server driven by serve
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// StreamCloser closes every open stream
type StreamCloser interface {
	Shutdown()
}

// serve runs srv until it fails or a signal arrives on stop
func serve(srv HTTPServer, streams StreamCloser, stop <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		streams.Shutdown()
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-stop:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	// Streams are long-lived, so they are closed before draining the server
	streams.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func newServer(cfg *config.Config, store Store) (*api.Server, *relay.Relay) {
	r := relay.New(store, store)
	srv := api.NewServer(
		api.Config{
			CORSOrigins:     cfg.CORSOrigins,
			StreamKeepalive: cfg.StreamKeepalive,
			MaxStreamsPerIP: cfg.MaxStreamsPerIP,
			MaxStreams:      cfg.MaxStreams,
			VatisRateLimit:  cfg.VatisRateLimit,
			TrustProxy:      cfg.TrustProxy,
		},
		r,
		snapshot.New(store),
		vatis.NewIngestor(store, cfg.AtisTTL),
		store,
	)
	return srv, r
}
