package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

type CollisionRequest struct {
	Zones         []types.Zone        `json:"zones"`
	Relationships map[string][]string `json:"relationships,omitempty"`
	Strategy      string              `json:"strategy,omitempty"`
}

type CollisionResult struct {
	Zones    []types.Zone            `json:"zones"`
	Metadata types.CollisionMetadata `json:"metadata"`
}

// CollisionResolver is the external spatial de-confliction collaborator:
// it takes raw zones plus domain relationships and returns de-conflicted
// zones with overlap metadata (pairs, IoU).
type CollisionResolver interface {
	ResolveCollisions(ctx context.Context, req CollisionRequest) (*CollisionResult, error)
}

type httpCollisionResolver struct {
	log     *logger.Logger
	baseURL string
	httpc   *http.Client
}

func NewCollisionResolver(log *logger.Logger) (CollisionResolver, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("COLLISION_RESOLVER_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing COLLISION_RESOLVER_URL")
	}
	return &httpCollisionResolver{
		log:     log.With("service", "CollisionResolver"),
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *httpCollisionResolver) ResolveCollisions(ctx context.Context, req CollisionRequest) (*CollisionResult, error) {
	if len(req.Zones) == 0 {
		return &CollisionResult{}, nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal collision request: %w", err)
	}

	// One retry on a retryable status; the resolver is deterministic, so a
	// second failure means the payload is the problem.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ctxAttempt, cancel := context.WithTimeout(ctx, 30*time.Second)
		out, status, err := s.post(ctxAttempt, body)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableHTTPStatus(status) {
			break
		}
	}
	return nil, fmt.Errorf("collision resolver: %w", lastErr)
}

func (s *httpCollisionResolver) post(ctx context.Context, body []byte) (*CollisionResult, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		// network errors are treated like a retryable 5xx
		return nil, http.StatusServiceUnavailable, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out CollisionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode collision response: %w", err)
	}
	if out.Metadata.Raw == nil {
		out.Metadata.Raw = json.RawMessage(raw)
	}
	return &out, resp.StatusCode, nil
}

func isRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// passthroughCollisionResolver keeps the pipeline usable when no resolver
// endpoint is configured: zones pass through untouched with no overlap
// metadata, which degrades constraint generation to hierarchy rules only.
type passthroughCollisionResolver struct{}

func NewPassthroughCollisionResolver() CollisionResolver {
	return passthroughCollisionResolver{}
}

func (passthroughCollisionResolver) ResolveCollisions(ctx context.Context, req CollisionRequest) (*CollisionResult, error) {
	return &CollisionResult{Zones: req.Zones}, nil
}
