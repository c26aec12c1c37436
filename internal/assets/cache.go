package assets

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"astronoma/internal/generation"
	"astronoma/internal/logging"
	"astronoma/internal/types"
)

// DefaultFetchTimeout bounds decoding (including fetches) of one batch.
const DefaultFetchTimeout = 15 * time.Second

// store holds cache entries. The map store never evicts, the LRU store drops
// its least recently used entry past its bound. put returns the sets the
// store no longer holds, either replaced or evicted, so the caller decides
// which of them to release.
type store interface {
	get(Key) (Entry, bool)
	put(Entry) []Set
	len() int
	purge() int // releases every entry
}

type mapStore map[Key]Entry

func (m mapStore) get(k Key) (Entry, bool) { e, ok := m[k]; return e, ok }
func (m mapStore) len() int                { return len(m) }

func (m mapStore) put(e Entry) []Set {
	old, ok := m[e.Key]
	m[e.Key] = e
	if ok && !sameSet(old.Set, e.Set) {
		return []Set{old.Set}
	}
	return nil
}

func (m mapStore) purge() int {
	n := len(m)
	for k, e := range m {
		e.Set.Release()
		delete(m, k)
	}
	return n
}

// lruStore collects evicted sets in dropped; callers hold the cache mutex.
type lruStore struct {
	c       *lru.Cache[Key, Entry]
	dropped []Set
}

func newLRUStore(size int) (*lruStore, error) {
	s := &lruStore{}
	c, err := lru.NewWithEvict[Key, Entry](size, func(k Key, e Entry) {
		logging.AssetsDebug("evicting %s (%s)", k, e.Provenance)
		s.dropped = append(s.dropped, e.Set)
	})
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *lruStore) get(k Key) (Entry, bool) { return s.c.Get(k) }
func (s *lruStore) len() int                { return s.c.Len() }

// put reports the replaced set itself since Add does not evict on update.
func (s *lruStore) put(e Entry) []Set {
	old, replaced := s.c.Peek(e.Key)
	s.c.Add(e.Key, e)
	out := s.drain()
	if replaced && !sameSet(old.Set, e.Set) {
		out = append(out, old.Set)
	}
	return out
}

func (s *lruStore) purge() int {
	n := s.c.Len()
	s.c.Purge()
	for _, set := range s.drain() {
		set.Release()
	}
	return n
}

func (s *lruStore) drain() []Set {
	out := s.dropped
	s.dropped = nil
	return out
}

// sameSet reports whether a and b hold the same textures.
func sameSet(a, b Set) bool {
	if len(a) != len(b) {
		return false
	}
	for slot, t := range a {
		if b[slot] != t {
			return false
		}
	}
	return true
}

// flight is one key waiting on a batch. done is closed once set is final.
type flight struct {
	req  Request
	done chan struct{}
	set  Set
}

// Cache is the resource cache. Construct one per process and pass it to the
// components that render objects.
type Cache struct {
	mu       sync.Mutex
	entries  store
	inflight map[Key]*flight
	epoch    uint64

	batch        generation.BatchRequester
	fetcher      Fetcher
	synth        synthesizer
	fetchTimeout time.Duration
	now          func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache) error

// WithFetcher sets the fetcher used for non-inline image references.
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) error {
		c.fetcher = f
		return nil
	}
}

// WithMaxEntries bounds the cache with LRU eviction. 0 means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) error {
		if n <= 0 {
			return nil
		}
		s, err := newLRUStore(n)
		if err != nil {
			return err
		}
		c.entries = s
		return nil
	}
}

// WithSize sets placeholder dimensions.
func WithSize(width, height int) Option {
	return func(c *Cache) error {
		if width > 0 && height > 0 {
			c.synth = synthesizer{width: width, height: height}
		}
		return nil
	}
}

// WithFetchTimeout bounds decoding of one batch's results.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) error {
		if d > 0 {
			c.fetchTimeout = d
		}
		return nil
	}
}

// New creates a cache backed by batch.
func New(batch generation.BatchRequester, opts ...Option) (*Cache, error) {
	c := &Cache{
		entries:      mapStore{},
		inflight:     make(map[Key]*flight),
		batch:        batch,
		synth:        synthesizer{width: DefaultWidth, height: DefaultHeight},
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the cached entry for key. It never starts work.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.get(key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.len()
}

// Synthesize draws a placeholder for key at the cache's size.
func (c *Cache) Synthesize(key Key, style types.Style) Set {
	return c.synth.draw(key, style, nil)
}

// Placeholder draws the placeholder for an object, tinted by its color.
func (c *Cache) Placeholder(req Request) Set {
	tint, _ := parseHexColor(req.Object.Color)
	return c.synth.draw(req.Key, types.StyleFor(req.Object), tint)
}

// Acquire resolves every requested key. Generated sets already cached are
// returned as-is, keys another caller is fetching are shared, and the rest go
// out in exactly one batch. Keys that fail settle to their placeholder. If ctx
// ends first, unsettled keys get a placeholder and the batch keeps running.
func (c *Cache) Acquire(ctx context.Context, reqs []Request) map[Key]Set {
	out := make(map[Key]Set, len(reqs))
	waits := make(map[Key]*flight)
	byKey := make(map[Key]Request, len(reqs))
	var fresh []*flight

	c.mu.Lock()
	epoch := c.epoch
	for _, r := range reqs {
		if _, dup := byKey[r.Key]; dup {
			continue
		}
		byKey[r.Key] = r
		if e, ok := c.entries.get(r.Key); ok && e.Provenance == ProvenanceGenerated {
			out[r.Key] = e.Set
			continue
		}
		if f, ok := c.inflight[r.Key]; ok {
			waits[r.Key] = f
			continue
		}
		f := &flight{req: r, done: make(chan struct{})}
		c.inflight[r.Key] = f
		waits[r.Key] = f
		fresh = append(fresh, f)
	}
	c.mu.Unlock()

	logging.AssetsDebug("acquire %d keys: %d cached, %d shared, %d new",
		len(byKey), len(out), len(waits)-len(fresh), len(fresh))

	if len(fresh) > 0 {
		go c.settle(context.WithoutCancel(ctx), epoch, fresh)
	}

	for key, f := range waits {
		select {
		case <-f.done:
			out[key] = f.set
		case <-ctx.Done():
			out[key] = c.Placeholder(byKey[key])
		}
	}
	return out
}

// AcquireAsync runs Acquire in the background. The channel yields one
// mapping and is then closed.
func (c *Cache) AcquireAsync(ctx context.Context, reqs []Request) <-chan map[Key]Set {
	ch := make(chan map[Key]Set, 1)
	go func() {
		defer close(ch)
		ch <- c.Acquire(ctx, reqs)
	}()
	return ch
}

// settle issues the batch for fresh and resolves their flights. Results of a
// batch that started before the last Clear are handed to waiters but not
// cached.
func (c *Cache) settle(ctx context.Context, epoch uint64, fresh []*flight) {
	descs := make([]generation.Descriptor, len(fresh))
	for i, f := range fresh {
		descs[i] = generation.DescriptorFor(f.req.Object)
		descs[i].ID = string(f.req.Key)
	}
	results := c.batch.Request(ctx, descs)

	decodeCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	sets := make([]Set, len(fresh))
	var wg sync.WaitGroup
	for i, f := range fresh {
		res, ok := results[string(f.req.Key)]
		if !ok {
			logging.AssetsWarn("no result for %s, using placeholder", f.req.Key)
			continue
		}
		wg.Add(1)
		go func(i int, key Key, res generation.Result) {
			defer wg.Done()
			set, err := decodeResult(decodeCtx, key, res, c.fetcher)
			if err != nil {
				logging.AssetsWarn("generation failed for %s, using placeholder: %v", key, err)
				return
			}
			sets[i] = set
		}(i, f.req.Key, res)
	}
	wg.Wait()

	provs := make([]Provenance, len(fresh))
	generated := 0
	for i, f := range fresh {
		if sets[i] == nil {
			sets[i], provs[i] = c.Placeholder(f.req), ProvenanceSynthesized
			continue
		}
		provs[i] = ProvenanceGenerated
		generated++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	stale := epoch != c.epoch
	var dropped []Set
	for i, f := range fresh {
		if !stale {
			dropped = append(dropped, c.entries.put(Entry{Key: f.req.Key, Set: sets[i], Provenance: provs[i], StoredAt: c.now()})...)
			if c.inflight[f.req.Key] == f {
				delete(c.inflight, f.req.Key)
			}
		}
		f.set = sets[i]
		close(f.done)
	}
	if stale {
		logging.AssetsDebug("batch of %d settled after clear, not cached", len(fresh))
		return
	}
	releaseDropped(dropped, sets)
	logging.Assets("batch of %d settled: %d generated, %d placeholders", len(fresh), generated, len(fresh)-generated)
}

// releaseDropped releases sets the store let go of, except those just handed
// to this batch's waiters.
func releaseDropped(dropped, handed []Set) {
	for _, d := range dropped {
		owned := false
		for _, h := range handed {
			if sameSet(d, h) {
				owned = true
				break
			}
		}
		if !owned {
			d.Release()
		}
	}
}

// Clear releases every cached set. Batches in flight keep running but their
// results are no longer cached.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.epoch++
	released := c.entries.purge()
	c.inflight = make(map[Key]*flight)
	c.mu.Unlock()

	logging.Assets("cache cleared (%d entries released)", released)
}
