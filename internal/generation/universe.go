package generation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"astronoma/internal/logging"
	"astronoma/internal/types"
)

// UniverseClient calls the universe REST endpoints. Unlike BatchClient its
// failures are returned: a failed regeneration must reach the readiness gate.
type UniverseClient struct {
	baseURL string
	client  *http.Client
}

// NewUniverseClient creates a client for the backend at baseURL.
func NewUniverseClient(baseURL string, timeout time.Duration) *UniverseClient {
	return &UniverseClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate asks the backend for a freshly generated universe.
func (c *UniverseClient) Generate(ctx context.Context, req types.GenerationRequest) (*types.UniverseDocument, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generation request: %w", err)
	}
	start := time.Now()
	var doc types.UniverseDocument
	if err := doJSON(ctx, c.client, http.MethodPost, joinURL(c.baseURL, "/universe/generate"), req, &doc, "generate universe"); err != nil {
		logging.Get(logging.CategoryAPI).Warn("generate %s failed after %v: %v", req.UniverseType, time.Since(start), err)
		return nil, err
	}
	if err := validateDocument(&doc); err != nil {
		return nil, &Error{Kind: KindService, Op: "generate universe", Message: err.Error()}
	}
	logging.API("generated universe %s (%d objects) in %v", doc.ID, len(doc.Objects), time.Since(start))
	return &doc, nil
}

// Fetch loads a stored universe by id.
func (c *UniverseClient) Fetch(ctx context.Context, id string) (*types.UniverseDocument, error) {
	var doc types.UniverseDocument
	if err := doJSON(ctx, c.client, http.MethodGet, joinURL(c.baseURL, "/universe/"+url.PathEscape(id)), nil, &doc, "fetch universe"); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	if err := validateDocument(&doc); err != nil {
		return nil, &Error{Kind: KindService, Op: "fetch universe", Message: err.Error()}
	}
	return &doc, nil
}

// HealthStatus is the backend /health payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Health checks backend liveness.
func (c *UniverseClient) Health(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	if err := doJSON(ctx, c.client, http.MethodGet, joinURL(c.baseURL, "/health"), nil, &h, "health"); err != nil {
		return nil, err
	}
	return &h, nil
}

func validateDocument(doc *types.UniverseDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("malformed universe: missing id")
	}
	seen := make(map[string]struct{}, len(doc.Objects))
	for i, o := range doc.Objects {
		if o.ID == "" {
			return fmt.Errorf("malformed universe: object %d has no id", i)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("malformed universe: duplicate object id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}
