package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saviobatista/atc-online/internal/logging"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewUpgrader creates a WebSocket upgrader. A nil checkOrigin accepts the
// same origins as gorilla's default (matching Host).
func NewUpgrader(checkOrigin func(r *http.Request) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebSocket streams messages as text frames. Client frames are read and
// discarded so close frames and pongs are processed.
type WebSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// UpgradeWebSocket upgrades the request and starts the read and ping pumps.
// On failure the upgrader has already replied to the client.
func UpgradeWebSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ws := &WebSocket{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}

	go ws.readPump()
	go ws.pingLoop()
	return ws, nil
}

func (ws *WebSocket) readPump() {
	defer ws.Close()

	ws.conn.SetReadLimit(maxMessageSize)
	if err := ws.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeTimeout)); err != nil {
				ws.Close()
				return
			}
		}
	}
}

// Send writes one text frame
func (ws *WebSocket) Send(ctx context.Context, data []byte) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.closed {
		return ErrClosed
	}
	if err := ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout)); err != nil {
		return err
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Done is closed when the peer goes away or Close is called
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.done
}

// Close sends a close frame and releases the connection
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)

		// WriteControl and Close may run concurrently with a blocked Send,
		// which Close unblocks.
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = ws.conn.Close()

		ws.mu.Lock()
		ws.closed = true
		ws.mu.Unlock()
	})
	return err
}

func (ws *WebSocket) Kind() string {
	return "websocket"
}
