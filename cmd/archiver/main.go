package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/nats"
	"github.com/saviobatista/atc-online/internal/storage"
	"github.com/saviobatista/atc-online/internal/types"
)

// MessageWriter appends one archive line
type MessageWriter interface {
	WriteMessage(message []byte) error
}

func main() {
	if err := runArchiver(); err != nil {
		logging.Error().Err(err).Msg("Archiver failed")
		os.Exit(1)
	}
}

// runArchiver contains the main application logic
func runArchiver() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	archive := storage.New(cfg.OutputDir)
	if err := archive.Start(); err != nil {
		return fmt.Errorf("failed to start archive: %w", err)
	}

	client, err := nats.New(cfg.NATSURL)
	if err != nil {
		_ = archive.Stop()
		return fmt.Errorf("failed to create NATS client: %w", err)
	}

	if err := client.SubscribeSnapshots(func(snap *types.FeedSnapshot) {
		if err := archiveSnapshot(archive, snap); err != nil {
			logging.Warn().Err(err).Msg("Failed to archive snapshot")
		}
	}); err != nil {
		client.Close()
		_ = archive.Stop()
		return fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}

	logging.Info().Str("output_dir", cfg.OutputDir).Msg("Archiving feed snapshots")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info().Msg("Shutting down...")
	// Close the client first so no handler writes after the file is closed
	client.Close()
	return archive.Stop()
}

// archiveSnapshot writes snap as one JSON line
func archiveSnapshot(w MessageWriter, snap *types.FeedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return w.WriteMessage(data)
}
