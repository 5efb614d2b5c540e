package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/types"
)

const (
	StreamName      = "ATC_FEED"
	SubjectSnapshot = "feed.snapshot"
	SubjectMetar    = "feed.metar"
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a new NATS client
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("atc-online"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Snapshots older than an hour are useless to every consumer
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"feed.>"},
		Storage:  nats.FileStorage,
		MaxAge:   time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// PublishSnapshot publishes a normalized feed snapshot
func (c *Client) PublishSnapshot(snap *types.FeedSnapshot) error {
	return c.publish(SubjectSnapshot, snap)
}

// PublishMetar publishes a single METAR report
func (c *Client) PublishMetar(report *types.MetarReport) error {
	return c.publish(SubjectMetar, report)
}

func (c *Client) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeSnapshots delivers every new feed snapshot to handler
func (c *Client) SubscribeSnapshots(handler func(*types.FeedSnapshot)) error {
	_, err := c.js.Subscribe(SubjectSnapshot, func(msg *nats.Msg) {
		var snap types.FeedSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal snapshot")
			return
		}
		handler(&snap)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// SubscribeMetars delivers every new METAR report to handler
func (c *Client) SubscribeMetars(handler func(*types.MetarReport)) error {
	_, err := c.js.Subscribe(SubjectMetar, func(msg *nats.Msg) {
		var report types.MetarReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal METAR")
			return
		}
		handler(&report)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
