package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/clients/websearch"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

const (
	AcquireMethodExisting  = "existing"
	AcquireMethodWebSearch = "web_search"

	// Search failures here mean "no suitable result", not flaky
	// infrastructure, so attempts refine the query instead of backing off.
	acquisitionMaxAttempts = 2
	acquisitionCallTimeout = 45 * time.Second
)

type AcquisitionRequest struct {
	ExistingImagePath string
	QuestionText      string
	Subject           string
	CanonicalLabels   []string
}

type AcquisitionResult struct {
	Status        string             `json:"status"`
	ImagePath     string             `json:"image_path,omitempty"`
	Method        string             `json:"method,omitempty"`
	Query         string             `json:"query,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Trace         []types.TraceEntry `json:"trace,omitempty"`
}

// AcquisitionService obtains a reference diagram image, reusing an existing
// one when present and falling back to query-refined web search.
type AcquisitionService interface {
	AcquireImage(ctx context.Context, req AcquisitionRequest) *AcquisitionResult
}

type acquisitionService struct {
	log      *logger.Logger
	searcher websearch.ImageSearcher
	store    gcp.ImageStore
}

func NewAcquisitionService(log *logger.Logger, searcher websearch.ImageSearcher, store gcp.ImageStore) AcquisitionService {
	return &acquisitionService{
		log:      log.With("service", "AcquisitionService"),
		searcher: searcher,
		store:    store,
	}
}

func (s *acquisitionService) AcquireImage(ctx context.Context, req AcquisitionRequest) *AcquisitionResult {
	res := &AcquisitionResult{Status: types.PlanStatusError}

	// Reuse-if-present: a valid existing path short-circuits without any
	// network call.
	if path := strings.TrimSpace(req.ExistingImagePath); path != "" {
		start := time.Now()
		ok, err := s.storeExists(ctx, path)
		entry := types.NewTraceEntry("check_existing_image", start)
		entry.Thought = "an image path was supplied; reuse it if it is still valid"
		if err != nil {
			entry.Observation = fmt.Sprintf("existence check failed: %v", err)
		} else if ok {
			entry.Observation = "existing image is valid"
			entry.Decision = "reuse existing image"
			entry.Result = path
			res.Trace = append(res.Trace, entry)
			res.Status = types.PlanStatusSuccess
			res.ImagePath = path
			res.Method = AcquireMethodExisting
			return res
		} else {
			entry.Observation = "existing image path is stale"
		}
		entry.Decision = "fall through to web search"
		res.Trace = append(res.Trace, entry)
	}

	topic := extractTopic(req.QuestionText, req.CanonicalLabels)
	queries := buildQueryLadder(topic, req.CanonicalLabels)

	for attempt := 0; attempt < acquisitionMaxAttempts && attempt < len(queries); attempt++ {
		query := queries[attempt]
		start := time.Now()

		callCtx, cancel := context.WithTimeout(ctx, acquisitionCallTimeout)
		found, err := s.searcher.SearchImage(callCtx, query, req.Subject, 5)
		cancel()

		entry := types.NewTraceEntry("image_search", start)
		entry.Thought = fmt.Sprintf("attempt %d/%d", attempt+1, acquisitionMaxAttempts)
		entry.Observation = fmt.Sprintf("query %q", query)
		if err != nil {
			entry.Result = fmt.Sprintf("no result: %v", err)
			entry.Decision = "refine query and retry"
			res.Trace = append(res.Trace, entry)
			s.log.Debug("image search attempt failed", "attempt", attempt+1, "query", query, "error", err)
			continue
		}

		entry.Decision = "accept first returned image"
		entry.Result = found.SelectedPath
		res.Trace = append(res.Trace, entry)

		res.Status = types.PlanStatusSuccess
		res.ImagePath = found.SelectedPath
		res.Method = AcquireMethodWebSearch
		res.Query = query
		return res
	}

	res.FailureReason = fmt.Sprintf("no suitable image found after %d search attempts", acquisitionMaxAttempts)
	s.log.Warn("image acquisition failed", "question", req.QuestionText, "reason", res.FailureReason)
	return res
}

func (s *acquisitionService) storeExists(ctx context.Context, path string) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("image store not configured")
	}
	return s.store.Exists(ctx, path)
}

// Question prompts arrive as templated instructions; strip the known
// scaffolding down to the diagram topic.
var questionPrefixes = []string{
	"label the parts of a ",
	"label the parts of the ",
	"label the parts of ",
	"label the following ",
	"label the ",
	"label a ",
	"identify the parts of a ",
	"identify the parts of the ",
	"identify the parts of ",
	"identify the ",
	"name the parts of ",
	"name the ",
}

func extractTopic(questionText string, labels []string) string {
	topic := strings.ToLower(strings.TrimSpace(questionText))
	topic = strings.TrimRight(topic, "?.! ")
	for _, p := range questionPrefixes {
		if strings.HasPrefix(topic, p) {
			topic = strings.TrimSpace(strings.TrimPrefix(topic, p))
			break
		}
	}
	topic = strings.TrimSuffix(topic, " diagram")
	topic = strings.TrimSpace(topic)

	if topic == "" && len(labels) > 0 {
		topic = strings.ToLower(labels[0])
	}
	return topic
}

// buildQueryLadder yields progressively refined queries: topic-focused
// first, then label-augmented, then a generic fallback.
func buildQueryLadder(topic string, labels []string) []string {
	if topic == "" {
		topic = "educational"
	}
	ladder := []string{topic + " diagram labeled parts"}

	if len(labels) > 0 {
		top := labels
		if len(top) > 3 {
			top = top[:3]
		}
		ladder = append(ladder, topic+" diagram "+strings.ToLower(strings.Join(top, " ")))
	}

	ladder = append(ladder, "educational diagram "+topic+" structure")
	return ladder
}
