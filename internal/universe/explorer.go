// Package universe owns the explorer's view of the current universe: which
// document is loaded, which object is selected, and how a regeneration
// replaces them.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"astronoma/internal/assets"
	"astronoma/internal/gate"
	"astronoma/internal/logging"
	"astronoma/internal/types"
)

// Via selects the transport used for a regeneration.
type Via string

const (
	ViaHTTP    Via = "http"
	ViaChannel Via = "channel"
)

// ParseVia validates a transport name.
func ParseVia(s string) (Via, error) {
	switch v := Via(s); v {
	case ViaHTTP, ViaChannel:
		return v, nil
	}
	return "", fmt.Errorf("unknown transport %q (want http or channel)", s)
}

// ErrSuperseded is the result of a regeneration replaced by a newer one.
var ErrSuperseded = errors.New("regeneration superseded")

// Generator produces a universe document.
type Generator interface {
	Generate(ctx context.Context, req types.GenerationRequest) (*types.UniverseDocument, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req types.GenerationRequest) (*types.UniverseDocument, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req types.GenerationRequest) (*types.UniverseDocument, error) {
	return f(ctx, req)
}

// Option customizes an Explorer.
type Option func(*Explorer)

// WithGenerator registers the generator used for via.
func WithGenerator(via Via, g Generator) Option {
	return func(e *Explorer) {
		if g != nil {
			e.generators[via] = g
		}
	}
}

// WithMinDwell sets how long a transition stays on screen at least.
func WithMinDwell(d time.Duration) Option {
	return func(e *Explorer) {
		if d >= 0 {
			e.minDwell = d
		}
	}
}

// WithGateOptions passes options to every transition's gate.
func WithGateOptions(opts ...gate.Option) Option {
	return func(e *Explorer) {
		e.gateOpts = append(e.gateOpts, opts...)
	}
}

// Explorer holds the current universe. It is safe for concurrent use.
type Explorer struct {
	cache      *assets.Cache
	generators map[Via]Generator
	minDwell   time.Duration
	gateOpts   []gate.Option
	epoch      gate.Epoch

	mu       sync.RWMutex
	doc      *types.UniverseDocument
	selected string
	current  *Transition
}

// NewExplorer creates an explorer that loads textures through cache.
func NewExplorer(cache *assets.Cache, opts ...Option) *Explorer {
	e := &Explorer{
		cache:      cache,
		generators: make(map[Via]Generator),
		minDwell:   gate.DefaultMinDwell,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Document returns the current universe, or nil.
func (e *Explorer) Document() *types.UniverseDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// SetDocument replaces the current universe without a transition.
func (e *Explorer) SetDocument(doc *types.UniverseDocument) {
	e.mu.Lock()
	e.doc = doc
	e.selected = ""
	e.mu.Unlock()
}

// Selected returns the object the view is focused on.
func (e *Explorer) Selected() (types.CelestialObject, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.selected == "" {
		return types.CelestialObject{}, false
	}
	return e.doc.Object(e.selected)
}

// Regenerate starts a transition to a freshly generated universe. A running
// transition is superseded. The document is swapped only when the
// transition completes without error.
func (e *Explorer) Regenerate(ctx context.Context, req types.GenerationRequest, via Via) (*Transition, error) {
	gen, ok := e.generators[via]
	if !ok {
		return nil, fmt.Errorf("no generator configured for %s", via)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithCancel(ctx)
	t := &Transition{
		token:  e.epoch.Next(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.gate = gate.New(func(res gate.Result) { e.finish(t, res) }, e.gateOpts...)

	e.mu.Lock()
	prev := e.current
	e.current = t
	e.mu.Unlock()
	if prev != nil {
		prev.abort(ErrSuperseded)
	}

	logging.Universe("regenerating %s via %s", req.UniverseType, via)
	t.gate.Start(e.minDwell)

	go func() {
		doc, err := gen.Generate(callCtx, req)
		if !e.epoch.Current(t.token) {
			logging.UniverseWarn("dropping result of superseded regeneration")
			return
		}
		if err != nil {
			logging.UniverseWarn("generation failed: %v", err)
		}
		t.mu.Lock()
		t.doc = doc
		t.mu.Unlock()
		t.gate.SetDataReady(err)
	}()
	return t, nil
}

// finish runs when a transition's gate completes.
func (e *Explorer) finish(t *Transition, res gate.Result) {
	if !e.epoch.Current(t.token) {
		t.resolve(Result{Err: ErrSuperseded, Elapsed: res.Elapsed})
		return
	}

	t.mu.Lock()
	doc := t.doc
	t.mu.Unlock()

	out := Result{Err: res.Err, Elapsed: res.Elapsed}
	if res.Err == nil && doc != nil {
		e.mu.Lock()
		e.doc = doc
		e.selected = ""
		if e.current == t {
			e.current = nil
		}
		e.mu.Unlock()

		out.Document = doc
		if e.cache != nil {
			out.Textures = e.cache.AcquireAsync(context.Background(), requestsFor(doc.Objects))
		}
		logging.Universe("universe %s ready (%d objects)", doc.ID, len(doc.Objects))
	} else if res.Err == nil {
		out.Err = errors.New("generation returned no universe")
	}
	t.resolve(out)
}

// Textures returns placeholders for objects right away and the generated
// sets once they settle.
func (e *Explorer) Textures(ctx context.Context, objects []types.CelestialObject) (map[assets.Key]assets.Set, <-chan map[assets.Key]assets.Set) {
	reqs := requestsFor(objects)
	placeholders := make(map[assets.Key]assets.Set, len(reqs))
	if e.cache == nil {
		for _, r := range reqs {
			placeholders[r.Key] = assets.Synthesize(r.Key, types.StyleFor(r.Object))
		}
		ch := make(chan map[assets.Key]assets.Set, 1)
		ch <- placeholders
		close(ch)
		return placeholders, ch
	}
	for _, r := range reqs {
		if entry, ok := e.cache.Get(r.Key); ok {
			placeholders[r.Key] = entry.Set
			continue
		}
		placeholders[r.Key] = e.cache.Placeholder(r)
	}
	return placeholders, e.cache.AcquireAsync(ctx, reqs)
}

// HandleNavigate focuses the view on the action's target. Unknown targets
// are ignored.
func (e *Explorer) HandleNavigate(action types.NavigationAction) (types.CelestialObject, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.doc.Object(action.TargetID)
	if !ok {
		logging.UniverseWarn("navigation to unknown object %q ignored", action.TargetID)
		return types.CelestialObject{}, false
	}
	e.selected = obj.ID
	logging.Universe("navigating to %s over %v", obj.Name, action.DurationOrDefault())
	return obj, true
}

// HandleChat applies the navigation action carried by a chat reply, if any.
func (e *Explorer) HandleChat(resp *types.ChatResponse) (types.CelestialObject, bool) {
	if resp == nil || resp.Action == nil {
		return types.CelestialObject{}, false
	}
	if resp.Action.Type != "" && resp.Action.Type != "navigate" {
		return types.CelestialObject{}, false
	}
	return e.HandleNavigate(*resp.Action)
}

func requestsFor(objects []types.CelestialObject) []assets.Request {
	reqs := make([]assets.Request, len(objects))
	for i, o := range objects {
		reqs[i] = assets.RequestFor(o)
	}
	return reqs
}
