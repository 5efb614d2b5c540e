package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/saviobatista/atc-online/internal/config"
	"github.com/saviobatista/atc-online/internal/testutils"
)

const waitTimeout = 2 * time.Second

// callLog records the order of shutdown calls
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockHTTPServer struct {
	log         *callLog
	listenErr   error
	shutdownErr error
	stopped     chan struct{}
	once        sync.Once
}

func newMockHTTPServer(log *callLog) *mockHTTPServer {
	return &mockHTTPServer{log: log, stopped: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopped
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.log.add("http")
	m.once.Do(func() { close(m.stopped) })
	return m.shutdownErr
}

type mockStreams struct {
	log *callLog
}

func (m *mockStreams) Shutdown() {
	m.log.add("streams")
}

func runServe(t *testing.T, srv HTTPServer, streams StreamCloser, stop chan os.Signal) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- serve(srv, streams, stop) }()

	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("serve did not return")
	}
	return nil
}

func TestServe_ClosesStreamsBeforeServer(t *testing.T) {
	log := &callLog{}
	srv := newMockHTTPServer(log)
	stop := make(chan os.Signal, 1)
	stop <- syscall.SIGTERM

	if err := runServe(t, srv, &mockStreams{log: log}, stop); err != nil {
		t.Fatalf("serve() failed: %v", err)
	}

	got := log.get()
	if len(got) != 2 || got[0] != "streams" || got[1] != "http" {
		t.Errorf("Expected [streams http], got %v", got)
	}
}

func TestServe_ListenError(t *testing.T) {
	log := &callLog{}
	srv := newMockHTTPServer(log)
	srv.listenErr = errors.New("address in use")

	err := runServe(t, srv, &mockStreams{log: log}, make(chan os.Signal))
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Fatalf("Expected listen error, got %v", err)
	}
	if got := log.get(); len(got) != 1 || got[0] != "streams" {
		t.Errorf("Expected only streams to be closed, got %v", got)
	}
}

func TestServe_ShutdownError(t *testing.T) {
	log := &callLog{}
	srv := newMockHTTPServer(log)
	srv.shutdownErr = context.DeadlineExceeded
	stop := make(chan os.Signal, 1)
	stop <- syscall.SIGINT

	err := runServe(t, srv, &mockStreams{log: log}, stop)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected shutdown error, got %v", err)
	}
}

func TestNewServer_Wiring(t *testing.T) {
	store := testutils.NewMemoryStore()
	cfg := &config.Config{
		CORSOrigins:     []string{"*"},
		MaxStreamsPerIP: 1,
		MaxStreams:      10,
		AtisTTL:         time.Minute,
	}

	handler, r := newServer(cfg, store)
	ts := httptest.NewServer(handler.Router())
	defer ts.Close()
	defer r.Shutdown()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /readyz 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/ids/aircraft/feed", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /ids/aircraft/feed failed: %v", err)
	}
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("Expected stream 200, got %d", stream.StatusCode)
	}
	if err := testutils.WaitForCondition(func() bool { return r.Streams() == 1 }, waitTimeout); err != nil {
		t.Fatalf("Expected the stream on the returned relay, got %d", r.Streams())
	}

	resp, err = http.Get(ts.URL + "/ids/atis")
	if err != nil {
		t.Fatalf("GET /ids/atis failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected MAX_STREAMS_PER_IP to apply, got %d", resp.StatusCode)
	}
}
