package transports

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConfig holds the settings for reaching a serial bridge that
// forwards the bus over a WebSocket.
type WebSocketConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	Timeout       time.Duration
}

// WebSocketTransport exchanges bus bytes as binary WebSocket messages.
// Incoming messages are pumped into a channel so Read can honour the read
// timeout.
type WebSocketTransport struct {
	conn    *websocket.Conn
	msgs    chan []byte
	done    chan struct{}
	timeout time.Duration

	buf []byte

	mu      sync.Mutex
	readErr error
	once    sync.Once
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketTransport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketTransport(conn, cfg.Timeout), nil
}

func newWebSocketTransport(conn *websocket.Conn, timeout time.Duration) *WebSocketTransport {
	if timeout == 0 {
		timeout = time.Millisecond
	}
	t := &WebSocketTransport{
		conn:    conn,
		msgs:    make(chan []byte, 64),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go t.pump()
	return t
}

func (t *WebSocketTransport) pump() {
	defer close(t.msgs)
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			t.readErr = err
			t.mu.Unlock()
			return
		}
		// Only binary messages carry bus traffic
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case t.msgs <- data:
		case <-t.done:
			return
		}
	}
}

// Read returns buffered bytes first, then waits up to the read timeout for
// the next message. A timeout is reported as (0, nil).
func (t *WebSocketTransport) Read(p []byte) (int, error) {
	if len(t.buf) > 0 {
		n := copy(p, t.buf)
		t.buf = t.buf[n:]
		return n, nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case data, ok := <-t.msgs:
		if !ok {
			t.mu.Lock()
			err := t.readErr
			t.mu.Unlock()
			if err == nil {
				return 0, ErrConnectionClosed
			}
			return 0, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		n := copy(p, data)
		t.buf = data[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (t *WebSocketTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *WebSocketTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *WebSocketTransport) SetReadTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %v", timeout)
	}
	t.timeout = timeout
	return nil
}

// Flush drops buffered and queued messages.
func (t *WebSocketTransport) Flush() error {
	t.buf = nil
	for {
		select {
		case _, ok := <-t.msgs:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}
