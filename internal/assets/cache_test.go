package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"astronoma/internal/generation"
	"astronoma/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pngDataURL(t testing.TB, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// fakeBatch records every batch and answers from results. A batch that
// contains a key listed in block waits until that channel is closed.
type fakeBatch struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]generation.Result
	block   map[string]chan struct{}
	started chan []string
}

func newFakeBatch() *fakeBatch {
	return &fakeBatch{
		results: map[string]generation.Result{},
		block:   map[string]chan struct{}{},
		started: make(chan []string, 16),
	}
}

func (f *fakeBatch) Request(ctx context.Context, descs []generation.Descriptor) map[string]generation.Result {
	ids := make([]string, len(descs))
	for i, d := range descs {
		ids[i] = d.ID
	}
	sort.Strings(ids)

	f.mu.Lock()
	f.calls = append(f.calls, ids)
	var wait []chan struct{}
	for _, id := range ids {
		if ch, ok := f.block[id]; ok {
			wait = append(wait, ch)
		}
	}
	f.mu.Unlock()
	f.started <- ids

	for _, ch := range wait {
		<-ch
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]generation.Result{}
	for _, id := range ids {
		if r, ok := f.results[id]; ok {
			out[id] = r
		}
	}
	return out
}

func (f *fakeBatch) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeBatch) succeed(t testing.TB, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.results[id] = generation.Result{Refs: map[string]string{"primary": pngDataURL(t, color.White)}}
	}
}

func (f *fakeBatch) blockOn(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[id] = ch
	return ch
}

func req(id string, typ types.ObjectType) Request {
	return RequestFor(types.CelestialObject{ID: id, Type: typ, Color: "#336699"})
}

func newTestCache(t *testing.T, batch generation.BatchRequester, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithSize(16, 8)}, opts...)
	c, err := New(batch, opts...)
	require.NoError(t, err)
	return c
}

func TestAcquireSharesInFlightAndSkipsCached(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "A", "B", "C")
	cache := newTestCache(t, fb)
	ctx := context.Background()

	// B is cached.
	got := cache.Acquire(ctx, []Request{req("B", types.ObjectPlanet)})
	require.True(t, got["B"].Complete())
	<-fb.started

	// C is mid-flight from another caller.
	releaseC := fb.blockOn("C")
	cDone := cache.AcquireAsync(ctx, []Request{req("C", types.ObjectMoon)})
	assert.Equal(t, []string{"C"}, <-fb.started)

	var all map[Key]Set
	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		all = cache.Acquire(ctx, []Request{req("A", types.ObjectPlanet), req("B", types.ObjectPlanet), req("C", types.ObjectMoon)})
	}()
	assert.Equal(t, []string{"A"}, <-fb.started, "only the new key is batched")

	close(releaseC)
	<-allDone
	cOnly := <-cDone

	assert.Equal(t, [][]string{{"B"}, {"C"}, {"A"}}, fb.Calls())
	for _, k := range []Key{"A", "B", "C"} {
		assert.True(t, all[k].Complete(), k)
	}
	assert.Same(t, cOnly["C"].Primary(), all["C"].Primary(), "both callers observe one outcome")

	entry, ok := cache.Get("C")
	require.True(t, ok)
	assert.Equal(t, ProvenanceGenerated, entry.Provenance)
	assert.Equal(t, 3, cache.Len())
}

func TestAcquireConcurrentCallersOneBatch(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "x", "y")
	release := fb.blockOn("x")
	cache := newTestCache(t, fb)

	var wg sync.WaitGroup
	first := cache.AcquireAsync(context.Background(), []Request{req("x", types.ObjectPlanet), req("y", types.ObjectPlanet)})
	<-fb.started
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := cache.Acquire(context.Background(), []Request{req("y", types.ObjectPlanet), req("x", types.ObjectPlanet)})
			assert.Len(t, got, 2)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	<-first

	assert.Len(t, fb.Calls(), 1)
}

func TestAcquireFailureDegradesToPlaceholder(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "good")
	fb.results["bad"] = generation.Failed(generation.KindService, "model offline")
	fb.results["garbled"] = generation.Result{Refs: map[string]string{"primary": "data:image/png;base64,!!!"}}
	cache := newTestCache(t, fb)

	got := cache.Acquire(context.Background(), []Request{
		req("good", types.ObjectPlanet),
		req("bad", types.ObjectStar),
		req("garbled", types.ObjectPlanet),
		req("missing", types.ObjectMoon),
	})
	require.Len(t, got, 4)
	for k, set := range got {
		assert.True(t, set.Complete(), k)
	}
	assert.Equal(t, "synthesized:star", got["bad"].Primary().Source)
	assert.NotNil(t, got["bad"][SlotEmissive])

	good, _ := cache.Get("good")
	assert.Equal(t, ProvenanceGenerated, good.Provenance)
	bad, ok := cache.Get("bad")
	require.True(t, ok, "a failed key still reads back its placeholder")
	assert.Equal(t, ProvenanceSynthesized, bad.Provenance)

	// A later acquire tries the failed keys again, but not the generated one.
	cache.Acquire(context.Background(), []Request{req("good", types.ObjectPlanet), req("bad", types.ObjectStar)})
	calls := fb.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"bad"}, calls[1])
}

func TestAcquireCollapsesDuplicates(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "dup")
	cache := newTestCache(t, fb)

	got := cache.Acquire(context.Background(), []Request{req("dup", types.ObjectPlanet), req("dup", types.ObjectPlanet)})
	assert.Len(t, got, 1)
	assert.Equal(t, [][]string{{"dup"}}, fb.Calls())
}

func TestAcquireCallerGivesUp(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "slow")
	release := fb.blockOn("slow")
	cache := newTestCache(t, fb)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got := cache.Acquire(ctx, []Request{req("slow", types.ObjectPlanet)})
	require.True(t, got["slow"].Complete())
	assert.Contains(t, got["slow"].Primary().Source, "synthesized")

	close(release)
	require.Eventually(t, func() bool {
		e, ok := cache.Get("slow")
		return ok && e.Provenance == ProvenanceGenerated
	}, time.Second, 5*time.Millisecond, "the batch keeps running and fills the cache")
}

func TestClearReleasesAndIgnoresStaleBatches(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "old", "late")
	cache := newTestCache(t, fb)

	got := cache.Acquire(context.Background(), []Request{req("old", types.ObjectPlanet)})
	<-fb.started
	tex := got["old"].Primary()
	require.False(t, tex.Released())

	release := fb.blockOn("late")
	late := cache.AcquireAsync(context.Background(), []Request{req("late", types.ObjectPlanet)})
	<-fb.started

	cache.Clear()
	assert.True(t, tex.Released())
	assert.Zero(t, cache.Len())

	close(release)
	res := <-late
	assert.True(t, res["late"].Complete(), "waiters still resolve")
	_, ok := cache.Get("late")
	assert.False(t, ok, "a batch from before Clear does not repopulate the cache")
}

func TestMaxEntriesEvicts(t *testing.T) {
	fb := newFakeBatch()
	fb.succeed(t, "one", "two", "three")
	cache := newTestCache(t, fb, WithMaxEntries(2))

	first := cache.Acquire(context.Background(), []Request{req("one", types.ObjectPlanet)})
	cache.Acquire(context.Background(), []Request{req("two", types.ObjectPlanet)})
	cache.Acquire(context.Background(), []Request{req("three", types.ObjectPlanet)})

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("one")
	assert.False(t, ok)
	assert.True(t, first["one"].Primary().Released())

	// A batch larger than the bound still hands out live sets.
	wide := cache.Acquire(context.Background(), []Request{
		req("four", types.ObjectPlanet), req("five", types.ObjectPlanet), req("six", types.ObjectPlanet),
	})
	require.Len(t, wide, 3)
	for k, set := range wide {
		require.True(t, set.Complete(), k)
		assert.NotNil(t, set.Primary().Image(), k)
	}
	assert.Equal(t, 2, cache.Len())
}

func TestReplacedPlaceholderIsReleased(t *testing.T) {
	for name, opts := range map[string][]Option{
		"unbounded": nil,
		"bounded":   {WithMaxEntries(4)},
	} {
		t.Run(name, func(t *testing.T) {
			fb := newFakeBatch()
			fb.results["A"] = generation.Failed(generation.KindService, "model offline")
			cache := newTestCache(t, fb, opts...)

			first := cache.Acquire(context.Background(), []Request{req("A", types.ObjectPlanet)})
			placeholder := first["A"].Primary()
			require.False(t, placeholder.Released())

			fb.succeed(t, "A")
			second := cache.Acquire(context.Background(), []Request{req("A", types.ObjectPlanet)})
			assert.True(t, placeholder.Released(), "the superseded placeholder is let go")
			assert.NotNil(t, second["A"].Primary().Image())

			cache.Clear()
			assert.True(t, second["A"].Primary().Released())
		})
	}
}

func TestUnboundedByDefault(t *testing.T) {
	fb := newFakeBatch()
	cache := newTestCache(t, fb, WithMaxEntries(0))
	reqs := make([]Request, 0, 40)
	for i := 0; i < 40; i++ {
		reqs = append(reqs, req(string(rune('a'+i)), types.ObjectMoon))
	}
	cache.Acquire(context.Background(), reqs)
	assert.Equal(t, 40, cache.Len())
}
