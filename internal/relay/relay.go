// Package relay fans Redis change notifications out to client streams. Each
// stream owns a dedicated pub/sub subscription, so a slow or failing client
// never holds up delivery to another.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/metrics"
	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/types"
)

var (
	// ErrStreamClosed is returned when pushing to or opening a stream on a
	// closed relay or stream
	ErrStreamClosed = errors.New("stream closed")
	// ErrRecordNotFound is returned when an update notification names a
	// record that is no longer stored
	ErrRecordNotFound = errors.New("record not found")
)

// Subscriber opens dedicated pub/sub subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (redis.Subscription, error)
}

// RecordStore fetches the records announced by update notifications
type RecordStore interface {
	GetPilot(ctx context.Context, callsign string) (*types.PilotRecord, error)
	GetAtis(ctx context.Context, station string) (*types.AtisRecord, error)
}

// Transport is a client connection the relay writes to
type Transport interface {
	// Send writes one message. An error means the connection is unusable.
	Send(ctx context.Context, data []byte) error
	// Done is closed when the client disconnects or the transport is closed.
	Done() <-chan struct{}
	Close() error
	// Kind names the transport for metrics, e.g. "sse" or "websocket".
	Kind() string
}

// Relay tracks open streams
type Relay struct {
	subscriber Subscriber
	store      RecordStore
	log        zerolog.Logger

	mu       sync.Mutex
	streams  map[string]*Stream
	shutdown bool
}

// New creates a relay subscribing through subscriber and fetching records
// from store
func New(subscriber Subscriber, store RecordStore) *Relay {
	return &Relay{
		subscriber: subscriber,
		store:      store,
		log:        logging.Component("relay"),
		streams:    make(map[string]*Stream),
	}
}

// OpenStream subscribes a transport to a feed. The stream is registered and
// Streaming once the subscription is confirmed; the caller then drives it
// with Run.
func (r *Relay) OpenStream(ctx context.Context, t Transport, feed Feed) (*Stream, error) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil, ErrStreamClosed
	}
	r.mu.Unlock()

	s := &Stream{
		id:        uuid.New().String(),
		feed:      feed,
		transport: t,
		relay:     r,
		state:     StateConnecting,
		closed:    make(chan struct{}),
	}
	s.log = r.log.With().Str("stream_id", s.id).Str("feed", feed.Name).Logger()

	sub, err := r.subscriber.Subscribe(ctx, feed.Channels()...)
	if err != nil {
		s.setState(StateClosed)
		return nil, fmt.Errorf("failed to open %s stream: %w", feed.Name, err)
	}
	s.sub = sub

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		s.setState(StateClosed)
		_ = sub.Close()
		return nil, ErrStreamClosed
	}
	r.streams[s.id] = s
	s.setState(StateStreaming)
	r.mu.Unlock()

	metrics.StreamsActive.WithLabelValues(feed.Name).Inc()
	metrics.StreamsOpened.WithLabelValues(feed.Name, t.Kind()).Inc()
	s.log.Debug().Str("transport", t.Kind()).Msg("Stream opened")

	return s, nil
}

// CloseStream releases the stream's subscription and transport. It is
// idempotent and, once it returns, no further message reaches the transport.
func (r *Relay) CloseStream(s *Stream) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		if s.sub != nil {
			if err := s.sub.Close(); err != nil {
				s.log.Debug().Err(err).Msg("Failed to close subscription")
			}
		}
		if err := s.transport.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Failed to close transport")
		}

		// Wait out a push already past the state check.
		s.sendMu.Lock()
		defer s.sendMu.Unlock()

		r.mu.Lock()
		_, registered := r.streams[s.id]
		delete(r.streams, s.id)
		r.mu.Unlock()

		if registered {
			metrics.StreamsActive.WithLabelValues(s.feed.Name).Dec()
		}
		close(s.closed)
		s.log.Debug().Msg("Stream closed")
	})
}

// Streams returns the number of open streams
func (r *Relay) Streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Shutdown closes every open stream and refuses new ones
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	for _, s := range streams {
		r.CloseStream(s)
	}
	r.log.Info().Int("streams", len(streams)).Msg("Relay shut down")
}
