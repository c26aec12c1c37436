// Package gate holds a transition on screen until it has been visible for a
// minimum time and fresh data exists, whichever happens last.
package gate

import (
	"errors"
	"sync"
	"time"

	"astronoma/internal/logging"
)

// Phase is the displayed stage of a transition.
type Phase string

const (
	PhaseStarting      Phase = "starting"
	PhaseTransitioning Phase = "transitioning"
	PhaseAwaitingData  Phase = "awaiting-data"
	PhaseReady         Phase = "ready"
)

// Defaults.
const (
	DefaultMinDwell     = 4 * time.Second
	DefaultDisplayDelay = 500 * time.Millisecond
	DefaultMaxWait      = 30 * time.Second
)

// ErrStalled is the completion error when data never arrived within the
// max wait.
var ErrStalled = errors.New("gate: data did not arrive in time")

// State is a snapshot of the gate. MinElapsed and DataReady are tracked
// independently of Phase.
type State struct {
	Phase      Phase
	MinElapsed bool
	DataReady  bool
	Err        error
}

// Result is passed to the completion callback.
type Result struct {
	Err     error
	Elapsed time.Duration
}

// Option customizes a Gate.
type Option func(*Gate)

// WithDisplayDelay sets the pause between ready and completion.
func WithDisplayDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.displayDelay = d
		}
	}
}

// WithMaxWait bounds how long the gate waits for data after Start. 0 waits
// forever.
func WithMaxWait(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.maxWait = d
		}
	}
}

// Gate is a readiness gate. Completion fires at most once.
type Gate struct {
	displayDelay time.Duration
	maxWait      time.Duration
	onComplete   func(Result)

	mu           sync.Mutex
	state        State
	started      time.Time
	running      bool
	stopped      bool
	dwellTimer   *time.Timer
	maxTimer     *time.Timer
	displayTimer *time.Timer
	subs         []chan State

	once     sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

// New creates an idle gate. onComplete may be nil.
func New(onComplete func(Result), opts ...Option) *Gate {
	g := &Gate{
		displayDelay: DefaultDisplayDelay,
		maxWait:      DefaultMaxWait,
		onComplete:   onComplete,
		state:        State{Phase: PhaseStarting},
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins the transition. The gate cannot complete before minDwell has
// passed. Calling Start again has no effect.
func (g *Gate) Start(minDwell time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running || g.stopped {
		return
	}
	g.running = true
	g.started = time.Now()
	g.setPhase(PhaseTransitioning)
	logging.GateDebug("started (min dwell %v, max wait %v)", minDwell, g.maxWait)

	if minDwell <= 0 {
		g.state.MinElapsed = true
	} else {
		g.dwellTimer = time.AfterFunc(minDwell, g.dwellElapsed)
	}
	if g.maxWait > 0 && !g.state.DataReady {
		g.maxTimer = time.AfterFunc(g.maxWait, g.maxWaitElapsed)
	}
	g.check()
}

// SetDataReady records that the awaited data exists. A non-nil err means the
// data could not be produced; the gate still completes and reports it. Only
// the first signal counts.
func (g *Gate) SetDataReady(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.state.DataReady {
		return
	}
	g.state.DataReady = true
	g.state.Err = err
	if g.maxTimer != nil {
		g.maxTimer.Stop()
	}
	logging.GateDebug("data ready (err=%v)", err)
	g.check()
}

// Fail records that data generation failed.
func (g *Gate) Fail(err error) {
	if err == nil {
		err = errors.New("gate: data generation failed")
	}
	g.SetDataReady(err)
}

// Stop tears the gate down. Timers are disarmed, completion will not be
// scheduled afterwards and Done is closed.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	for _, t := range []*time.Timer{g.dwellTimer, g.maxTimer, g.displayTimer} {
		if t != nil {
			t.Stop()
		}
	}
	g.closeSubs()
	g.closeDone()
}

// State returns a snapshot.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Done is closed after the completion callback has run, or by Stop.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Subscribe returns a channel of state snapshots, closed on completion or
// Stop. Slow readers miss intermediate states.
func (g *Gate) Subscribe() <-chan State {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan State, 8)
	ch <- g.state
	if g.stopped || g.isDone() {
		close(ch)
		return ch
	}
	g.subs = append(g.subs, ch)
	return ch
}

func (g *Gate) dwellElapsed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.state.MinElapsed = true
	g.check()
}

func (g *Gate) maxWaitElapsed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.state.DataReady {
		return
	}
	logging.Get(logging.CategoryGate).Warn("no data after %v, forcing completion", g.maxWait)
	g.state.DataReady = true
	g.state.Err = ErrStalled
	g.check()
}

// check is the single transition rule, run after every change. Called with
// mu held.
func (g *Gate) check() {
	if !g.running || g.state.Phase == PhaseReady {
		return
	}
	switch {
	case g.state.MinElapsed && g.state.DataReady:
		g.setPhase(PhaseReady)
		g.displayTimer = time.AfterFunc(g.displayDelay, g.complete)
	case g.state.MinElapsed:
		g.setPhase(PhaseAwaitingData)
	}
}

// complete is the only path to the callback.
func (g *Gate) complete() {
	g.once.Do(func() {
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return
		}
		res := Result{Err: g.state.Err, Elapsed: time.Since(g.started)}
		g.mu.Unlock()

		logging.Gate("complete after %v (err=%v)", res.Elapsed.Round(time.Millisecond), res.Err)
		if g.onComplete != nil {
			g.onComplete(res)
		}

		g.mu.Lock()
		g.closeDone()
		g.closeSubs()
		g.mu.Unlock()
	})
}

func (g *Gate) closeDone() {
	g.doneOnce.Do(func() { close(g.done) })
}

func (g *Gate) isDone() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// setPhase updates the phase and notifies subscribers. Called with mu held.
func (g *Gate) setPhase(p Phase) {
	if g.state.Phase == p {
		return
	}
	g.state.Phase = p
	for _, ch := range g.subs {
		select {
		case ch <- g.state:
		default:
		}
	}
}

func (g *Gate) closeSubs() {
	for _, ch := range g.subs {
		close(ch)
	}
	g.subs = nil
}
