package generation

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"astronoma/internal/logging"
)

// DefaultBatchTimeout is the hard budget for one texture batch.
const DefaultBatchTimeout = 15 * time.Second

// BatchRequester is what the resource cache needs from a batch client.
type BatchRequester interface {
	Request(ctx context.Context, descs []Descriptor) map[string]Result
}

// BatchClient merges texture needs into one call to the generator. It never
// returns an error: every failure collapses to an empty mapping, because a
// texture that cannot be generated keeps its placeholder.
type BatchClient struct {
	baseURL string
	path    string
	timeout time.Duration
	client  *http.Client

	group singleflight.Group
	calls atomic.Int64
}

// BatchOption customizes a BatchClient.
type BatchOption func(*BatchClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) BatchOption {
	return func(b *BatchClient) {
		if c != nil {
			b.client = c
		}
	}
}

// WithBatchPath overrides the batch endpoint path.
func WithBatchPath(p string) BatchOption {
	return func(b *BatchClient) {
		if p != "" {
			b.path = p
		}
	}
}

// NewBatchClient creates a batch client for the generator at baseURL.
func NewBatchClient(baseURL string, timeout time.Duration, opts ...BatchOption) *BatchClient {
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	b := &BatchClient{
		baseURL: baseURL,
		path:    "/textures/batch",
		timeout: timeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type batchRequest struct {
	Objects []Descriptor `json:"objects"`
}

type batchResponse struct {
	Results map[string]map[string]interface{} `json:"results"`
}

// CoalescingKey is the sorted, deduplicated id set of descs.
func CoalescingKey(descs []Descriptor) string {
	ids := make([]string, 0, len(descs))
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

// Request sends one batch for descs. An identical batch already in flight is
// shared instead of re-issued. The returned map is owned by the caller.
func (b *BatchClient) Request(ctx context.Context, descs []Descriptor) map[string]Result {
	if len(descs) == 0 {
		return map[string]Result{}
	}
	key := CoalescingKey(descs)
	unique := dedupe(descs)

	ch := b.group.DoChan(key, func() (interface{}, error) {
		return b.send(ctx, unique), nil
	})

	select {
	case res := <-ch:
		shared := res.Val.(map[string]Result)
		out := make(map[string]Result, len(shared))
		for k, v := range shared {
			out[k] = v
		}
		return out
	case <-ctx.Done():
		logging.BatchWarn("caller stopped waiting for batch of %d: %v", len(unique), ctx.Err())
		return map[string]Result{}
	}
}

// Calls returns how many network calls were issued.
func (b *BatchClient) Calls() int64 {
	return b.calls.Load()
}

func (b *BatchClient) send(ctx context.Context, descs []Descriptor) map[string]Result {
	b.calls.Add(1)
	start := time.Now()

	// The budget starts now and is not shortened by the first caller going away:
	// other callers may have joined this flight.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	var resp batchResponse
	err := doJSON(callCtx, b.client, http.MethodPost, joinURL(b.baseURL, b.path), batchRequest{Objects: descs}, &resp, "texture batch")
	if err != nil {
		logging.BatchWarn("batch of %d failed after %v (%s): %v", len(descs), time.Since(start), KindOf(err), err)
		return map[string]Result{}
	}

	out := make(map[string]Result, len(descs))
	for _, d := range descs {
		raw, ok := resp.Results[d.ID]
		if !ok {
			continue
		}
		r := parseResult(raw)
		if !r.OK() {
			logging.BatchWarn("texture %s failed: %s", d.ID, r.Message)
		}
		out[d.ID] = r
	}
	logging.Batch("batch of %d settled in %v (%d results)", len(descs), time.Since(start), len(out))
	return out
}

func dedupe(descs []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(descs))
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
