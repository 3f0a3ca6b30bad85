package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/utils"
)

type ImageCandidate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Mime  string `json:"mime,omitempty"`
}

type SearchResult struct {
	Candidates   []ImageCandidate `json:"candidates"`
	SelectedPath string           `json:"selected_path"`
	SelectedURL  string           `json:"selected_url"`
}

// ImageSearcher finds candidate diagram images for a query and downloads the
// first usable one into the local image cache.
type ImageSearcher interface {
	SearchImage(ctx context.Context, query, subject string, count int) (*SearchResult, error)
}

type imageSearcher struct {
	log      *logger.Logger
	svc      *customsearch.Service
	engineID string
	cacheDir string
	httpc    *http.Client
}

func NewImageSearcher(log *logger.Logger) (ImageSearcher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("client", "ImageSearcher")

	apiKey := strings.TrimSpace(os.Getenv("WEBSEARCH_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing WEBSEARCH_API_KEY")
	}
	engineID := strings.TrimSpace(os.Getenv("WEBSEARCH_ENGINE_ID"))
	if engineID == "" {
		return nil, fmt.Errorf("missing WEBSEARCH_ENGINE_ID")
	}

	cacheDir := utils.GetEnv("IMAGE_CACHE_DIR", filepath.Join(os.TempDir(), "diagramlab-images"), slog)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}

	svc, err := customsearch.NewService(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("customsearch service: %w", err)
	}

	return &imageSearcher{
		log:      slog,
		svc:      svc,
		engineID: engineID,
		cacheDir: cacheDir,
		httpc:    &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (s *imageSearcher) SearchImage(ctx context.Context, query, subject string, count int) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if count <= 0 || count > 10 {
		count = 5
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	full := query
	if subject != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(subject)) {
		full = subject + " " + query
	}

	resp, err := s.svc.Cse.List().
		Q(full).
		Cx(s.engineID).
		SearchType("image").
		Num(int64(count)).
		Safe("active").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("customsearch list: %w", err)
	}

	res := &SearchResult{}
	for _, item := range resp.Items {
		if item == nil || item.Link == "" {
			continue
		}
		res.Candidates = append(res.Candidates, ImageCandidate{
			URL:   item.Link,
			Title: item.Title,
			Mime:  item.Mime,
		})
	}
	if len(res.Candidates) == 0 {
		return nil, fmt.Errorf("no image results for %q", full)
	}

	// Take the first candidate that actually downloads as an image.
	for _, c := range res.Candidates {
		path, err := s.download(ctx, c.URL)
		if err != nil {
			s.log.Debug("candidate download failed", "url", c.URL, "error", err)
			continue
		}
		res.SelectedPath = path
		res.SelectedURL = c.URL
		return res, nil
	}
	return nil, fmt.Errorf("no downloadable image among %d candidates", len(res.Candidates))
}

func (s *imageSearcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("not an image: %s", ct)
	}

	path := filepath.Join(s.cacheDir, uuid.New().String()+extForContentType(ct))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, io.LimitReader(resp.Body, 20<<20)); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func extForContentType(ct string) string {
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "svg"):
		return ".svg"
	default:
		return ".jpg"
	}
}
