// Package feed fetches and normalizes the network data feed and METAR
// observations for the facility.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	// DefaultTimeout bounds a single upstream request
	DefaultTimeout = 10 * time.Second

	maxBodySize = 32 << 20
)

// Poller fetches a URL through a circuit breaker
type Poller struct {
	name   string
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]
}

// NewPoller creates a poller for url. A non-positive timeout uses
// DefaultTimeout.
func NewPoller(name, url string, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Poller{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     cb,
	}
}

// URL returns the polled URL
func (p *Poller) URL() string {
	return p.url
}

// Fetch retrieves the current body. While the breaker is open it fails
// fast with gobreaker.ErrOpenState.
func (p *Poller) Fetch(ctx context.Context) ([]byte, error) {
	body, err := p.cb.Execute(func() ([]byte, error) {
		return p.get(ctx)
	})
	switch {
	case err == nil:
		metrics.FeedFetches.WithLabelValues(p.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.FeedFetches.WithLabelValues(p.name, "rejected").Inc()
	default:
		metrics.FeedFetches.WithLabelValues(p.name, "failure").Inc()
	}
	return body, err
}

// State returns the breaker state
func (p *Poller) State() gobreaker.State {
	return p.cb.State()
}

func (p *Poller) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "atc-online")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status fetching %s: %s", p.name, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", p.name, err)
	}
	return body, nil
}
