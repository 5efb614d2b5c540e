package api

import (
	"net"
	"net/http"

	"github.com/saviobatista/atc-online/internal/metrics"
	"github.com/saviobatista/atc-online/internal/relay"
	"github.com/saviobatista/atc-online/internal/transport"
)

// admit reserves a stream slot for the client or answers 429
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (func(), bool) {
	release, reason, ok := s.limiter.Acquire(clientIP(r))
	if !ok {
		metrics.StreamsRejected.WithLabelValues(reason).Inc()
		respondError(w, http.StatusTooManyRequests, "too many open streams", nil)
		return nil, false
	}
	return release, true
}

// handleSSE streams a feed as server-sent events. The handler blocks for
// the lifetime of the stream.
func (s *Server) handleSSE(feed relay.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, ok := s.admit(w, r)
		if !ok {
			return
		}
		defer release()

		sse, err := transport.NewSSE(w, r, s.cfg.StreamKeepalive)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "streaming unsupported", err)
			return
		}

		s.run(r, sse, feed)
	}
}

// handleWebSocket streams a feed over a WebSocket connection
func (s *Server) handleWebSocket(feed relay.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, ok := s.admit(w, r)
		if !ok {
			return
		}
		defer release()

		ws, err := transport.UpgradeWebSocket(s.upgrader, w, r)
		if err != nil {
			s.log.Debug().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		s.run(r, ws, feed)
	}
}

func (s *Server) run(r *http.Request, t relay.Transport, feed relay.Feed) {
	stream, err := s.relay.OpenStream(r.Context(), t, feed)
	if err != nil {
		// The response has started, so the client only sees the stream end.
		s.log.Error().Err(err).Str("feed", feed.Name).Msg("Failed to open stream")
		_ = t.Close()
		return
	}

	if err := stream.Run(r.Context()); err != nil {
		s.log.Debug().Err(err).Str("stream_id", stream.ID()).Msg("Stream ended")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
