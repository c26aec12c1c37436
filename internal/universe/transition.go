package universe

import (
	"context"
	"sync"
	"time"

	"astronoma/internal/assets"
	"astronoma/internal/gate"
	"astronoma/internal/types"
)

// Result is the outcome of a transition.
type Result struct {
	Document *types.UniverseDocument
	Err      error
	Elapsed  time.Duration
	// Textures yields the new universe's texture sets once they settle. Nil
	// when the transition failed.
	Textures <-chan map[assets.Key]assets.Set
}

// Transition is one regeneration in progress.
type Transition struct {
	token  gate.Token
	gate   *gate.Gate
	cancel context.CancelFunc

	mu  sync.Mutex
	doc *types.UniverseDocument

	once   sync.Once
	result Result
	done   chan struct{}
}

// Done is closed when the transition has a result.
func (t *Transition) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. Valid after Done is closed.
func (t *Transition) Result() Result {
	<-t.done
	return t.result
}

// State returns the gate's current state.
func (t *Transition) State() gate.State {
	return t.gate.State()
}

// Subscribe streams gate state changes.
func (t *Transition) Subscribe() <-chan gate.State {
	return t.gate.Subscribe()
}

// Cancel abandons the transition. The current document is kept.
func (t *Transition) Cancel() {
	t.abort(context.Canceled)
}

func (t *Transition) abort(err error) {
	t.gate.Stop()
	t.cancel()
	t.resolve(Result{Err: err})
}

func (t *Transition) resolve(r Result) {
	t.once.Do(func() {
		t.result = r
		t.cancel()
		close(t.done)
	})
}
