package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/db"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/nats"
	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/tracker"
	"github.com/saviobatista/atc-online/internal/types"
)

// processTimeout bounds the store writes for one feed event
const processTimeout = 30 * time.Second

// FeedSubscriber delivers feed events from the ingestor
type FeedSubscriber interface {
	SubscribeSnapshots(handler func(*types.FeedSnapshot)) error
	SubscribeMetars(handler func(*types.MetarReport)) error
}

// FeedProcessor applies feed events
type FeedProcessor interface {
	ProcessSnapshot(ctx context.Context, snap *types.FeedSnapshot) error
	ProcessMetar(ctx context.Context, report *types.MetarReport) error
}

type clients struct {
	nats  *nats.Client
	db    *db.Client
	redis *redis.Client
}

func (c *clients) Close() {
	c.nats.Close()
	if err := c.db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing database client")
	}
	if err := c.redis.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing Redis client")
	}
}

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Tracker failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	c, err := createClients(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t := tracker.New(c.db, c.redis)
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}

	if err := subscribe(ctx, c.nats, t); err != nil {
		return err
	}

	waitForShutdown()
	cancel()
	t.Wait()
	return nil
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config) (*clients, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Error closing database client")
		}
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return &clients{nats: natsClient, db: dbClient, redis: redisClient}, nil
}

// subscribe routes snapshots and METARs from the feed into p
func subscribe(ctx context.Context, sub FeedSubscriber, p FeedProcessor) error {
	if err := sub.SubscribeSnapshots(func(snap *types.FeedSnapshot) {
		ctx, cancel := context.WithTimeout(ctx, processTimeout)
		defer cancel()
		if err := p.ProcessSnapshot(ctx, snap); err != nil {
			logging.Error().Err(err).Time("snapshot", snap.Timestamp).Msg("Failed to process snapshot")
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}

	if err := sub.SubscribeMetars(func(report *types.MetarReport) {
		ctx, cancel := context.WithTimeout(ctx, processTimeout)
		defer cancel()
		if err := p.ProcessMetar(ctx, report); err != nil {
			logging.Warn().Err(err).Str("station", report.Station).Msg("Failed to process METAR")
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to METARs: %w", err)
	}
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logging.Info().Msg("Shutting down...")
}
