package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

var errConnClosed = errors.New("mem conn closed")

// memConn is one in-memory connection. The test plays the server through
// the exported-to-test fields.
type memConn struct {
	toClient   chan Envelope
	fromClient chan Envelope
	closed     chan struct{}
	closeOnce  sync.Once
	failSend   atomic.Bool
}

func newMemConn() *memConn {
	return &memConn{
		toClient:   make(chan Envelope, 64),
		fromClient: make(chan Envelope, 64),
		closed:     make(chan struct{}),
	}
}

func (c *memConn) Send(env Envelope) error {
	if c.failSend.Load() {
		return errors.New("broken pipe")
	}
	select {
	case <-c.closed:
		return errConnClosed
	case c.fromClient <- env:
		return nil
	}
}

func (c *memConn) Receive() (Envelope, error) {
	select {
	case <-c.closed:
		return Envelope{}, errConnClosed
	case env := <-c.toClient:
		return env, nil
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers an envelope from the server side.
func (c *memConn) push(t *testing.T, event, id string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	c.toClient <- Envelope{Event: event, ID: id, Data: data}
}

// memTransport hands out memConns. dial, when set, decides each attempt.
type memTransport struct {
	mu    sync.Mutex
	dials int
	conns []*memConn
	dial  func(ctx context.Context, attempt int) error
}

func (t *memTransport) Dial(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	t.dials++
	attempt := t.dials
	dial := t.dial
	t.mu.Unlock()

	if dial != nil {
		if err := dial(ctx, attempt); err != nil {
			return nil, err
		}
	}
	conn := newMemConn()
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *memTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *memTransport) Conn(i int) *memConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}
