package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// DefaultWriteTimeout bounds a single write to a client
const DefaultWriteTimeout = 10 * time.Second

// ErrClosed is returned by Send on a closed transport
var ErrClosed = errors.New("transport closed")

var (
	ssePrefix    = []byte("data: ")
	sseSuffix    = []byte("\n\n")
	sseKeepalive = []byte(":\n\n")
)

// SSE streams messages as server-sent events on an HTTP response
type SSE struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewSSE writes the event-stream response headers and starts watching the
// request for disconnection. A positive keepalive sends a comment line at
// that interval so idle proxies keep the connection open.
func NewSSE(w http.ResponseWriter, r *http.Request, keepalive time.Duration) (*SSE, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, err
	}
	// The server write timeout would otherwise cut every stream short.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return nil, err
	}

	s := &SSE{
		w:            w,
		rc:           rc,
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}

	go s.watch(r.Context(), keepalive)
	return s, nil
}

func (s *SSE) watch(ctx context.Context, keepalive time.Duration) {
	var tick <-chan time.Time
	if keepalive > 0 {
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case <-tick:
			if err := s.write(sseKeepalive); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// Send writes one data event
func (s *SSE) Send(ctx context.Context, data []byte) error {
	frame := make([]byte, 0, len(ssePrefix)+len(data)+len(sseSuffix))
	frame = append(frame, ssePrefix...)
	frame = append(frame, data...)
	frame = append(frame, sseSuffix...)
	return s.write(frame)
}

func (s *SSE) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Done is closed when the client disconnects or Close is called
func (s *SSE) Done() <-chan struct{} {
	return s.done
}

// Close stops all further writes. It does not end the HTTP response; the
// handler does that by returning.
func (s *SSE) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *SSE) Kind() string {
	return "sse"
}
