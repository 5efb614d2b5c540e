package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/saviobatista/atc-online/internal/metrics"
	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/types"
)

// State of a stream
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errUnknownChannel = errors.New("unknown channel")

// Stream is one client's subscription to a feed
type Stream struct {
	id        string
	feed      Feed
	transport Transport
	sub       redis.Subscription
	relay     *Relay
	log       zerolog.Logger

	mu    sync.Mutex
	state State

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// ID returns the stream identifier
func (s *Stream) ID() string {
	return s.id
}

// Feed returns the feed the stream is subscribed to
func (s *Stream) Feed() Feed {
	return s.feed
}

// State returns the current lifecycle state
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the stream has been torn down
func (s *Stream) Done() <-chan struct{} {
	return s.closed
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run delivers notifications to the transport until the stream closes. It
// returns nil when the client went away or the stream was closed, and an
// error when the subscription or the transport failed. The stream is closed
// when Run returns.
func (s *Stream) Run(ctx context.Context) error {
	go s.watch(ctx)

	for {
		n, err := s.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || s.State() == StateClosed {
				s.relay.CloseStream(s)
				return nil
			}
			s.log.Warn().Err(err).Msg("Subscription failed")
			s.relay.CloseStream(s)
			return fmt.Errorf("subscription failed: %w", err)
		}
		if s.State() == StateClosed {
			return nil
		}

		msg, err := s.resolve(ctx, n)
		if err != nil {
			s.drop(n, dropReason(err), err)
			continue
		}

		data, err := json.Marshal(msg)
		if err != nil {
			s.drop(n, metrics.DropMarshalError, err)
			continue
		}

		if err := s.push(ctx, data); err != nil {
			if errors.Is(err, ErrStreamClosed) || s.State() == StateClosed {
				return nil
			}
			metrics.StreamWriteFailures.WithLabelValues(s.feed.Name).Inc()
			s.log.Debug().Err(err).Msg("Transport write failed")
			s.relay.CloseStream(s)
			return fmt.Errorf("transport write failed: %w", err)
		}
		metrics.StreamMessages.WithLabelValues(s.feed.Name, string(msg.MessageType())).Inc()
	}
}

// watch closes the stream when the client disconnects or ctx ends
func (s *Stream) watch(ctx context.Context) {
	select {
	case <-s.transport.Done():
	case <-ctx.Done():
	case <-s.closed:
		return
	}
	s.relay.CloseStream(s)
}

func (s *Stream) resolve(ctx context.Context, n *types.Notification) (Message, error) {
	switch n.Channel {
	case s.feed.UpdateChannel:
		return s.feed.update(ctx, s.relay.store, n.Payload)
	case s.feed.DeleteChannel:
		return s.feed.remove(n.Payload), nil
	default:
		return nil, errUnknownChannel
	}
}

func (s *Stream) push(ctx context.Context, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.State() != StateStreaming {
		return ErrStreamClosed
	}
	return s.transport.Send(ctx, data)
}

func (s *Stream) drop(n *types.Notification, reason string, err error) {
	metrics.StreamDrops.WithLabelValues(s.feed.Name, reason).Inc()
	s.log.Warn().
		Err(err).
		Str("channel", n.Channel).
		Str("id", n.Payload).
		Str("reason", reason).
		Msg("Dropped notification")
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return metrics.DropNotFound
	case errors.Is(err, errUnknownChannel):
		return metrics.DropUnknown
	default:
		return metrics.DropFetchError
	}
}
