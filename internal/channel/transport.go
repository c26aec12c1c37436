// Package channel gives request/response calls over the shared duplex event
// stream to the backend. Every call carries a correlation id and settles
// exactly once: response, error event, timeout, or lost connection.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"astronoma/internal/logging"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Transport opens connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open duplex connection. Send may be called concurrently with
// Receive; Receive is only called from one goroutine.
type Conn interface {
	Send(env Envelope) error
	Receive() (Envelope, error)
	Close() error
}

const defaultWriteWait = 10 * time.Second

// WSTransport dials a websocket endpoint.
type WSTransport struct {
	URL       string
	Header    http.Header
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

// NewWSTransport creates a websocket transport for url.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{URL: url, Dialer: websocket.DefaultDialer, WriteWait: defaultWriteWait}
}

// Dial connects to the endpoint.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	wait := t.WriteWait
	if wait <= 0 {
		wait = defaultWriteWait
	}
	return &wsConn{conn: conn, writeWait: wait}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Send writes env guarded by the write mutex and deadline.
func (c *wsConn) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the next well-formed envelope. Malformed frames are skipped.
func (c *wsConn) Receive() (Envelope, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Envelope{}, err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			logging.ChannelWarn("dropping malformed frame (%d bytes)", len(data))
			continue
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
