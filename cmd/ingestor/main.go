package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/facility"
	"github.com/saviobatista/atc-online/internal/feed"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/nats"
	"github.com/saviobatista/atc-online/internal/types"
)

// NATSClient interface for testability
type NATSClient interface {
	PublishSnapshot(snap *types.FeedSnapshot) error
	PublishMetar(report *types.MetarReport) error
	Close()
}

// Fetcher retrieves one upstream document
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Ingestor failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	table, err := facility.Open(cfg.FacilityFile)
	if err != nil {
		return err
	}

	client, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	datafeed := feed.NewPoller("datafeed", cfg.DatafeedURL, 0)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poll(ctx, cfg.PollInterval, func(ctx context.Context) error {
			return ingestFeed(ctx, datafeed, table, client)
		})
	}()

	if airports := table.Airports(); len(airports) > 0 {
		metarURL, err := feed.MetarURL(cfg.MetarURL, airports)
		if err != nil {
			return err
		}
		metars := feed.NewPoller("metar", metarURL, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poll(ctx, cfg.MetarInterval, func(ctx context.Context) error {
				_, err := ingestMetars(ctx, metars, client)
				return err
			})
		}()
	} else {
		logging.Warn().Msg("No facility airports configured, METAR polling disabled")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info().Msg("Shutting down...")
	cancel()
	wg.Wait()
	return nil
}

// poll runs fn immediately and then every interval until ctx is done
func poll(ctx context.Context, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn().Err(err).Msg("Poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ingestFeed fetches the data feed once and publishes the facility snapshot
func ingestFeed(ctx context.Context, f Fetcher, table *facility.Table, client NATSClient) error {
	data, err := f.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch data feed: %w", err)
	}

	snap, err := feed.Normalize(data, table)
	if err != nil {
		return err
	}

	if err := client.PublishSnapshot(snap); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	logging.Debug().
		Int("pilots", len(snap.Pilots)).
		Int("controllers", len(snap.Controllers)).
		Int("atis", len(snap.Atis)).
		Msg("Snapshot published")
	return nil
}

// ingestMetars fetches the facility METARs once and publishes each report.
// It returns the number of reports published.
func ingestMetars(ctx context.Context, f Fetcher, client NATSClient) (int, error) {
	data, err := f.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch METARs: %w", err)
	}

	reports, err := feed.DecodeMetars(data)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range reports {
		if err := client.PublishMetar(&reports[i]); err != nil {
			logging.Warn().Err(err).Str("station", reports[i].Station).Msg("Failed to publish METAR")
			continue
		}
		published++
	}
	return published, nil
}
