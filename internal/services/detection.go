package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/diagramlab-backend/internal/clients/gcp"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

const (
	detectionMaxRetries     = 3
	detectionScoreThreshold = 0.5
)

// Strategy rotation for low-quality results: start permissive, then force
// each single-feature pass in turn.
var detectionStrategies = []string{
	gcp.MethodAuto,
	gcp.MethodObjectLocalization,
	gcp.MethodTextRegions,
}

type DetectionRequest struct {
	ImagePath       string
	CanonicalLabels []string
	Hierarchy       map[string][]string
	Subject         string
}

type DetectionResult struct {
	Status          string             `json:"status"`
	Zones           []types.Zone       `json:"zones,omitempty"`
	Groups          []types.ZoneGroup  `json:"groups,omitempty"`
	ValidationScore float64            `json:"validation_score"`
	Retries         int                `json:"retries"`
	Strategy        string             `json:"strategy,omitempty"`
	Model           string             `json:"model,omitempty"`
	Duration        time.Duration      `json:"-"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	Trace           []types.TraceEntry `json:"trace,omitempty"`
}

// DetectionService locates labelable zones in a diagram image, retrying
// sequentially across detection strategies. Attempts are never parallel:
// each one is a costly vision call and a retry only makes sense after the
// previous score is known.
type DetectionService interface {
	DetectZones(ctx context.Context, req DetectionRequest) *DetectionResult
}

type detectionService struct {
	log       *logger.Logger
	annotator gcp.ZoneAnnotator
	store     gcp.ImageStore
}

func NewDetectionService(log *logger.Logger, annotator gcp.ZoneAnnotator, store gcp.ImageStore) DetectionService {
	return &detectionService{
		log:       log.With("service", "DetectionService"),
		annotator: annotator,
		store:     store,
	}
}

func (s *detectionService) DetectZones(ctx context.Context, req DetectionRequest) *DetectionResult {
	res := &DetectionResult{Status: types.PlanStatusError}

	img, err := s.store.Read(ctx, req.ImagePath)
	if err != nil || len(img) == 0 {
		res.FailureReason = fmt.Sprintf("could not read image %q: %v", req.ImagePath, err)
		return res
	}

	var best *gcp.AnnotateOutput

	for attempt := 0; attempt < detectionMaxRetries; attempt++ {
		strategy := detectionStrategies[attempt%len(detectionStrategies)]
		start := time.Now()

		out, err := s.annotator.AnnotateZones(ctx, gcp.AnnotateInput{
			Image:          img,
			ExpectedLabels: req.CanonicalLabels,
			Hierarchy:      req.Hierarchy,
			Subject:        req.Subject,
			Method:         strategy,
		})

		entry := types.NewTraceEntry("zone_detection", start)
		entry.Thought = fmt.Sprintf("attempt %d/%d with strategy %q", attempt+1, detectionMaxRetries, strategy)
		res.Retries = attempt + 1

		if err != nil {
			// Timeouts and service errors are retryable; the next
			// strategy may still produce a usable result.
			entry.Result = fmt.Sprintf("detection call failed: %v", err)
			entry.Decision = "rotate strategy and retry"
			res.Trace = append(res.Trace, entry)
			s.log.Debug("detection attempt failed", "attempt", attempt+1, "strategy", strategy, "error", err)
			continue
		}

		missing := missingLabels(out.Zones, req.CanonicalLabels)
		entry.Observation = fmt.Sprintf("zones=%d score=%.2f missing=%d", len(out.Zones), out.ValidationScore, len(missing))

		if best == nil || out.ValidationScore > best.ValidationScore {
			best = out
			res.Strategy = strategy
		}

		if out.ValidationScore >= detectionScoreThreshold && len(missing) == 0 {
			entry.Decision = "accept result"
			res.Trace = append(res.Trace, entry)
			break
		}
		entry.Decision = "score low or labels missing; rotate strategy"
		res.Trace = append(res.Trace, entry)
	}

	if best == nil || len(best.Zones) == 0 {
		res.FailureReason = fmt.Sprintf("no zones detected after %d attempts", res.Retries)
		return res
	}

	res.Zones = best.Zones
	res.Groups = best.Groups
	res.ValidationScore = best.ValidationScore
	res.Model = best.Model
	res.Duration = best.Duration
	if best.ValidationScore >= detectionScoreThreshold {
		res.Status = types.PlanStatusSuccess
	} else {
		res.Status = types.PlanStatusDegraded
	}
	return res
}

func missingLabels(zones []types.Zone, expected []string) []string {
	found := make(map[string]bool, len(zones))
	for _, z := range zones {
		found[strings.ToLower(z.Label)] = true
	}
	var missing []string
	for _, l := range expected {
		if !found[strings.ToLower(l)] {
			missing = append(missing, l)
		}
	}
	return missing
}
