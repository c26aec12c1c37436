package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"astronoma/internal/logging"
)

// CallSpec names the three events of one call type and its budget.
type CallSpec struct {
	Event        string
	SuccessEvent string
	ErrorEvent   string
	Timeout      time.Duration
}

// Options tune connection handling.
type Options struct {
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// DefaultOptions returns the stock connection settings.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    5 * time.Second,
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Second,
	}
}

type outcome struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	id    string
	spec  CallSpec
	seq   uint64
	timer *time.Timer
	done  chan outcome // buffered, receives exactly one outcome
}

type handlerEntry struct {
	id uint64
	fn func(json.RawMessage)
}

// Client multiplexes correlated calls over one connection. The connection is
// opened on first use.
type Client struct {
	transport Transport
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	conn       Conn
	connecting chan struct{} // closed when the current connect attempt ends
	degraded   bool
	closed     bool
	pending    map[string]*pendingCall
	seq        uint64
	handlers   map[string][]handlerEntry
	handlerSeq uint64
}

// NewClient creates a client. Nothing is dialed until the first call.
func NewClient(transport Transport, opts Options) *Client {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		transport: transport,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*pendingCall),
		handlers:  make(map[string][]handlerEntry),
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Pending returns the number of unsettled calls.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends payload as spec.Event and waits for exactly one outcome. On
// success the response is decoded into out (which may be nil).
func (c *Client) Call(ctx context.Context, spec CallSpec, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", spec.Event, err)
	}

	conn, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}

	p := c.register(spec)
	start := time.Now()
	logging.ChannelDebug("-> %s [%s]", spec.Event, p.id)

	if err := conn.Send(Envelope{Event: spec.Event, ID: p.id, Data: data}); err != nil {
		c.settle(p.id, outcome{err: networkError(err)})
		c.dropConn(conn, err)
	}

	var o outcome
	select {
	case o = <-p.done:
	case <-ctx.Done():
		// Whoever settles first wins; read back the single outcome.
		c.settle(p.id, outcome{err: ctx.Err()})
		o = <-p.done
	}

	if o.err != nil {
		logging.ChannelDebug("<- %s [%s] failed after %v: %v", spec.Event, p.id, time.Since(start), o.err)
		return o.err
	}
	logging.ChannelDebug("<- %s [%s] in %v", spec.SuccessEvent, p.id, time.Since(start))
	if out != nil {
		if err := json.Unmarshal(o.data, out); err != nil {
			return &ServiceError{Event: spec.SuccessEvent, Message: fmt.Sprintf("malformed response: %v", err)}
		}
	}
	return nil
}

func (c *Client) register(spec CallSpec) *pendingCall {
	p := &pendingCall{
		id:   uuid.NewString(),
		spec: spec,
		done: make(chan outcome, 1),
	}
	c.mu.Lock()
	c.seq++
	p.seq = c.seq
	c.pending[p.id] = p
	if spec.Timeout > 0 {
		p.timer = time.AfterFunc(spec.Timeout, func() {
			c.settle(p.id, outcome{err: ErrTimeout})
		})
	}
	c.mu.Unlock()
	return p
}

// settle resolves and removes the pending call id. Later signals for the same
// id find nothing and are dropped.
func (c *Client) settle(id string, o outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- o
	return true
}

// ensureConnected returns the open connection, starting a connect if needed
// and waiting for it at most ConnectTimeout. A caller that finds a connect
// already overdue fails fast.
func (c *Client) ensureConnected(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	if c.connecting != nil && c.degraded {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: not connected", ErrNetwork)
	}
	wait := c.connecting
	if wait == nil {
		wait = make(chan struct{})
		c.connecting = wait
		c.wg.Add(1)
		go c.connect(wait)
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-wait:
	case <-timer.C:
		logging.ChannelWarn("connection not ready after %v, continuing without it", c.opts.ConnectTimeout)
		c.mu.Lock()
		if c.connecting == wait {
			c.degraded = true
		}
		c.mu.Unlock()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrNetwork)
	}
	return c.conn, nil
}

// connect dials with a fixed backoff until it succeeds, attempts run out, or
// the client is closed.
func (c *Client) connect(done chan struct{}) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.connecting = nil
		c.degraded = false
		c.mu.Unlock()
		close(done)
	}()

	attempt := 0
	op := func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
		conn, err := c.transport.Dial(dialCtx)
		cancel()
		if err != nil {
			if c.ctx.Err() != nil {
				return backoff.Permanent(ErrClosed)
			}
			logging.ChannelWarn("connect attempt %d failed: %v", attempt, err)
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return backoff.Permanent(ErrClosed)
		}
		c.conn = conn
		c.wg.Add(1)
		c.mu.Unlock()
		go c.readLoop(conn)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.ReconnectAttempts)),
		c.ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if !errors.Is(err, ErrClosed) && c.ctx.Err() == nil {
			logging.ChannelWarn("giving up after %d connect attempts: %v", attempt, err)
		}
		return
	}
	logging.Channel("connected after %d attempt(s)", attempt)
}

func (c *Client) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		env, err := conn.Receive()
		if err != nil {
			c.dropConn(conn, err)
			return
		}
		c.dispatch(env)
	}
}

// dropConn forgets conn and rejects every pending call. A conn that has
// already been replaced is ignored.
func (c *Client) dropConn(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	rejected := c.takeAllPending()
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	for _, p := range rejected {
		p.done <- outcome{err: networkError(cause)}
	}
	if !closed {
		logging.ChannelWarn("connection lost (%d pending calls rejected): %v", len(rejected), cause)
	}
}

// takeAllPending empties the pending table. Called with mu held.
func (c *Client) takeAllPending() []*pendingCall {
	out := make([]*pendingCall, 0, len(c.pending))
	for id, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.pending, id)
		out = append(out, p)
	}
	return out
}

func (c *Client) dispatch(env Envelope) {
	if id, isErr, ok := c.match(env); ok {
		if isErr {
			c.settle(id, outcome{err: &ServiceError{Event: env.Event, Message: errorMessage(env.Data)}})
		} else {
			c.settle(id, outcome{data: env.Data})
		}
		return
	}
	if env.ID != "" {
		logging.ChannelDebug("dropping late %s for settled call %s", env.Event, env.ID)
		return
	}

	c.mu.Lock()
	hs := append([]handlerEntry(nil), c.handlers[env.Event]...)
	c.mu.Unlock()
	if len(hs) == 0 {
		logging.ChannelDebug("no handler for %s", env.Event)
		return
	}
	for _, h := range hs {
		h.fn(env.Data)
	}
}

// match finds the pending call env answers. Without an id, the oldest call
// waiting on env's event pair is chosen.
func (c *Client) match(env Envelope) (id string, isErr, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.ID != "" {
		p, found := c.pending[env.ID]
		if !found {
			return "", false, false
		}
		switch env.Event {
		case p.spec.SuccessEvent:
			return p.id, false, true
		case p.spec.ErrorEvent:
			return p.id, true, true
		}
		logging.ChannelWarn("call %s got unexpected event %s", env.ID, env.Event)
		return "", false, false
	}

	var oldest *pendingCall
	for _, p := range c.pending {
		if env.Event != p.spec.SuccessEvent && env.Event != p.spec.ErrorEvent {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	if oldest == nil {
		return "", false, false
	}
	return oldest.id, env.Event == oldest.spec.ErrorEvent, true
}

// On registers fn for unsolicited events named event. The returned function
// unsubscribes.
func (c *Client) On(event string, fn func(data json.RawMessage)) (unsubscribe func()) {
	c.mu.Lock()
	c.handlerSeq++
	id := c.handlerSeq
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			hs := c.handlers[event]
			for i, h := range hs {
				if h.id == id {
					c.handlers[event] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(c.handlers[event]) == 0 {
				delete(c.handlers, event)
			}
		})
	}
}

// Close stops reconnection, closes the connection and rejects pending calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	rejected := c.takeAllPending()
	c.mu.Unlock()

	for _, p := range rejected {
		p.done <- outcome{err: ErrClosed}
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	logging.Channel("channel closed (%d pending calls rejected)", len(rejected))
	return err
}
