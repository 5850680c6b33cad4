// Package controlplane is the engine's HTTP client for the backend: the
// per-difficulty service-template collection fetch at provision time and the
// fire-and-forget infrastructure push.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/maypok86/otter"

	"github.com/adarena/engine/internal/model"
)

const (
	collectionPath     = "/api/match/default-collection"
	infrastructurePath = "/api/match/infrastructure"

	// Successful collection fetches are cached briefly so bursts of
	// provisions do not hammer the backend. Failures are never cached.
	collectionCacheTTL = 30 * time.Second
	collectionCacheMax = 64
)

// Client talks to the control plane.
type Client struct {
	baseURL string
	http    *http.Client
	cache   otter.Cache[string, []model.ServiceTemplate]
}

// New creates a Client for the given backend base URL.
func New(baseURL string, timeout time.Duration) *Client {
	cache, err := otter.MustBuilder[string, []model.ServiceTemplate](collectionCacheMax).
		Cost(func(_ string, _ []model.ServiceTemplate) uint32 { return 1 }).
		WithTTL(collectionCacheTTL).
		Build()
	if err != nil {
		panic("controlplane: failed to create collection cache: " + err.Error())
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

type collectionResponse struct {
	Services []model.ServiceTemplate `json:"services"`
}

// FetchCollection returns the difficulty's service-template collection.
// An unreachable backend or an empty collection fails the fetch; there is no
// fallback.
func (c *Client) FetchCollection(ctx context.Context, difficulty string) ([]model.ServiceTemplate, error) {
	if cached, ok := c.cache.Get(difficulty); ok {
		return cached, nil
	}

	url := fmt.Sprintf("%s%s?difficulty=%s", c.baseURL, collectionPath, difficulty)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("controlplane: fetch collection: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controlplane: fetch collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("controlplane: fetch collection: backend returned %d", resp.StatusCode)
	}

	var body collectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("controlplane: fetch collection: decode: %w", err)
	}
	if len(body.Services) == 0 {
		return nil, fmt.Errorf("controlplane: fetch collection: empty collection for difficulty %q", difficulty)
	}

	c.cache.Set(difficulty, body.Services)
	return body.Services, nil
}

// PushInfrastructure notifies the backend of a match's provisioned
// infrastructure. Fire-and-forget: failures are logged, never propagated.
func (c *Client) PushInfrastructure(ctx context.Context, matchID string, inf *model.Infrastructure) {
	payload, err := json.Marshal(map[string]any{
		"matchId":        matchID,
		"infrastructure": inf,
	})
	if err != nil {
		log.Printf("controlplane: push infrastructure for %s: marshal: %v", matchID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+infrastructurePath, bytes.NewReader(payload))
	if err != nil {
		log.Printf("controlplane: push infrastructure for %s: %v", matchID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("controlplane: push infrastructure for %s: %v", matchID, err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("controlplane: push infrastructure for %s: backend returned %d", matchID, resp.StatusCode)
	}
}
