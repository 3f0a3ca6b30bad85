package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/repos"
	"github.com/yungbote/diagramlab-backend/internal/sse"
	"github.com/yungbote/diagramlab-backend/internal/types"
	"github.com/yungbote/diagramlab-backend/internal/visibility"
)

// ScenePolicy decides when a question is split across multiple scenes. The
// thresholds are a heuristic owned by the caller, not the planner.
type ScenePolicy struct {
	MaxLabelsPerScene int `yaml:"max_labels_per_scene"`
	MaxHierarchyDepth int `yaml:"max_hierarchy_depth"`
}

func DefaultScenePolicy() ScenePolicy {
	return ScenePolicy{MaxLabelsPerScene: 12, MaxHierarchyDepth: 3}
}

func (p ScenePolicy) MultiScene(labelCount, depth int) bool {
	return labelCount > p.MaxLabelsPerScene || depth > p.MaxHierarchyDepth
}

type PlanRequest struct {
	QuestionText      string              `json:"question_text"`
	Subject           string              `json:"subject"`
	ExistingImagePath string              `json:"existing_image_path,omitempty"`
	// Labels/Hierarchy/SuggestedOrder override the knowledge graph when
	// the caller already resolved them (or no graph is configured).
	Labels         []string            `json:"labels,omitempty"`
	Hierarchy      map[string][]string `json:"hierarchy,omitempty"`
	SuggestedOrder []string            `json:"suggested_order,omitempty"`
}

type PlanResult struct {
	RunID            uuid.UUID                  `json:"run_id"`
	Status           string                     `json:"status"`
	ValidationError  string                     `json:"validation_error,omitempty"`
	ImagePath        string                     `json:"image_path,omitempty"`
	ImageMethod      string                     `json:"image_method,omitempty"`
	Zones            []types.Zone               `json:"zones,omitempty"`
	Groups           []types.ZoneGroup          `json:"groups,omitempty"`
	Constraints      []types.TemporalConstraint `json:"constraints,omitempty"`
	CollisionMeta    *types.CollisionMetadata   `json:"collision_meta,omitempty"`
	MultiScene       bool                       `json:"multi_scene"`
	SceneCount       int                        `json:"scene_count"`
	ValidationScore  float64                    `json:"validation_score"`
	DetectionModel   string                     `json:"detection_model,omitempty"`
	DetectionMethod  string                     `json:"detection_method,omitempty"`
	DetectionRetries int                        `json:"detection_retries"`
	Diagnostics      []visibility.Diagnostic    `json:"diagnostics,omitempty"`
	Trace            []types.TraceEntry         `json:"trace"`
}

// ZonePlannerService is the per-question orchestrator: acquisition, zone
// detection, collision resolution, and constraint generation run as one
// sequential cooperative task. A phase failure never raises: it becomes a
// structured validation-error result that keeps the accumulated trace.
type ZonePlannerService interface {
	PlanZones(ctx context.Context, req PlanRequest) (*PlanResult, error)
	PlanBatch(ctx context.Context, reqs []PlanRequest) ([]*PlanResult, error)
}

type zonePlannerService struct {
	db          *gorm.DB
	log         *logger.Logger
	knowledge   DomainKnowledgeService
	acquisition AcquisitionService
	detection   DetectionService
	collision   CollisionResolver
	runs        repos.ZonePlanRunRepo
	zoneRecords repos.ZoneRecordRepo
	hub         *sse.SSEHub
	priorities  visibility.PriorityConfig
	scenes      ScenePolicy
}

func NewZonePlannerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	knowledge DomainKnowledgeService,
	acquisition AcquisitionService,
	detection DetectionService,
	collision CollisionResolver,
	runs repos.ZonePlanRunRepo,
	zoneRecords repos.ZoneRecordRepo,
	hub *sse.SSEHub,
	priorities visibility.PriorityConfig,
	scenes ScenePolicy,
) ZonePlannerService {
	return &zonePlannerService{
		db:          db,
		log:         baseLog.With("service", "ZonePlannerService"),
		knowledge:   knowledge,
		acquisition: acquisition,
		detection:   detection,
		collision:   collision,
		runs:        runs,
		zoneRecords: zoneRecords,
		hub:         hub,
		priorities:  priorities,
		scenes:      scenes,
	}
}

func (s *zonePlannerService) PlanZones(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	res := &PlanResult{
		RunID:      uuid.New(),
		Status:     types.PlanStatusSuccess,
		SceneCount: 1,
		Trace:      []types.TraceEntry{},
	}

	// Phase 0: domain knowledge. Request-supplied labels win; otherwise
	// consult the knowledge graph for the extracted topic.
	labels := req.Labels
	hierarchy := req.Hierarchy
	suggestedOrder := req.SuggestedOrder
	sceneHints := map[string]int{}

	if len(labels) == 0 && s.knowledge != nil {
		start := time.Now()
		topic := extractTopic(req.QuestionText, nil)
		dk, err := s.knowledge.Lookup(ctx, req.Subject, topic)
		entry := types.NewTraceEntry("knowledge_lookup", start)
		entry.Observation = fmt.Sprintf("topic %q", topic)
		if err != nil {
			entry.Result = fmt.Sprintf("lookup failed: %v", err)
			res.Trace = append(res.Trace, entry)
		} else {
			entry.Result = fmt.Sprintf("%d canonical labels", len(dk.CanonicalLabels))
			res.Trace = append(res.Trace, entry)
			labels = dk.CanonicalLabels
			hierarchy = dk.Hierarchy
			suggestedOrder = dk.SuggestedOrder
			sceneHints = dk.SceneHints
		}
	}
	if len(labels) == 0 {
		return s.fail(ctx, req, res, "no canonical labels available for question"), nil
	}

	// Phase 1: image acquisition.
	acq := s.acquisition.AcquireImage(ctx, AcquisitionRequest{
		ExistingImagePath: req.ExistingImagePath,
		QuestionText:      req.QuestionText,
		Subject:           req.Subject,
		CanonicalLabels:   labels,
	})
	res.Trace = append(res.Trace, acq.Trace...)
	if acq.Status != types.PlanStatusSuccess {
		return s.fail(ctx, req, res, "image acquisition failed: "+acq.FailureReason), nil
	}
	res.ImagePath = acq.ImagePath
	res.ImageMethod = acq.Method

	// Phase 2: zone detection (worker owns its retry loop).
	det := s.detection.DetectZones(ctx, DetectionRequest{
		ImagePath:       acq.ImagePath,
		CanonicalLabels: labels,
		Hierarchy:       hierarchy,
		Subject:         req.Subject,
	})
	res.Trace = append(res.Trace, det.Trace...)
	if det.Status == types.PlanStatusError {
		return s.fail(ctx, req, res, "zone detection failed: "+det.FailureReason), nil
	}
	res.ValidationScore = det.ValidationScore
	res.DetectionModel = det.Model
	res.DetectionMethod = det.Strategy
	res.DetectionRetries = det.Retries
	if det.Status == types.PlanStatusDegraded {
		res.Status = types.PlanStatusDegraded
	}

	// Phase 3: collision resolution (external collaborator).
	start := time.Now()
	col, err := s.collision.ResolveCollisions(ctx, CollisionRequest{
		Zones:         det.Zones,
		Relationships: relationshipsFromGroups(det.Groups),
		Strategy:      "auto",
	})
	entry := types.NewTraceEntry("collision_resolution", start)
	if err != nil {
		entry.Result = fmt.Sprintf("resolver failed: %v", err)
		res.Trace = append(res.Trace, entry)
		return s.fail(ctx, req, res, "collision resolution failed: "+err.Error()), nil
	}
	entry.Observation = fmt.Sprintf("%d zones, %d overlap pairs", len(col.Zones), len(col.Metadata.Pairs))
	res.Trace = append(res.Trace, entry)

	res.Zones = col.Zones
	res.Groups = det.Groups
	res.CollisionMeta = &col.Metadata

	// Phase 4: scene split decision (threshold heuristic, delegated to the
	// injected policy).
	depth := maxLevel(res.Zones)
	res.MultiScene = s.scenes.MultiScene(len(labels), depth)
	if res.MultiScene {
		res.SceneCount = assignScenes(res.Zones, sceneHints, s.scenes.MaxLabelsPerScene)
	}

	// Phase 5: temporal constraint generation.
	gen := visibility.NewGenerator(s.priorities)
	start = time.Now()
	var constraints []types.TemporalConstraint
	if res.MultiScene {
		for scene := 1; scene <= res.SceneCount; scene++ {
			out := gen.Generate(res.Zones, res.Groups, res.CollisionMeta, scene)
			constraints = append(constraints, out.Constraints...)
			res.Diagnostics = append(res.Diagnostics, out.Diagnostics...)
		}
		constraints = append(constraints, s.sceneBoundaryConstraints(res.Zones, res.SceneCount)...)
	} else {
		out := gen.Generate(res.Zones, res.Groups, res.CollisionMeta, 0)
		constraints = out.Constraints
		res.Diagnostics = out.Diagnostics
	}

	// Pedagogical hints are appended once, then the list is final.
	if len(suggestedOrder) > 0 {
		orderIDs := zoneIDsForLabels(res.Zones, suggestedOrder)
		constraints = visibility.AddPedagogicalHints(s.priorities, constraints, orderIDs, nil)
	}
	res.Constraints = constraints

	entry = types.NewTraceEntry("constraint_generation", start)
	entry.Observation = fmt.Sprintf("%d constraints, %d diagnostics", len(res.Constraints), len(res.Diagnostics))
	res.Trace = append(res.Trace, entry)

	s.persist(ctx, req, res)
	s.broadcast(res)
	return res, nil
}

// PlanBatch plans independent questions concurrently. Each question owns
// its own resolver and constraint list, so there is no shared mutable state
// to guard.
func (s *zonePlannerService) PlanBatch(ctx context.Context, reqs []PlanRequest) ([]*PlanResult, error) {
	results := make([]*PlanResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			out, err := s.PlanZones(gctx, req)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fail converts a phase failure into a structured validation-error result.
// Accumulated trace and metadata stay on the result.
func (s *zonePlannerService) fail(ctx context.Context, req PlanRequest, res *PlanResult, msg string) *PlanResult {
	res.Status = types.PlanStatusError
	res.ValidationError = msg
	s.log.Warn("zone plan failed", "run_id", res.RunID, "error", msg)
	s.persist(ctx, req, res)
	s.broadcast(res)
	return res
}

func (s *zonePlannerService) persist(ctx context.Context, req PlanRequest, res *PlanResult) {
	if s.runs == nil {
		return
	}

	run := &types.ZonePlanRun{
		ID:               res.RunID,
		QuestionText:     req.QuestionText,
		Subject:          req.Subject,
		Status:           res.Status,
		ValidationError:  res.ValidationError,
		ImagePath:        res.ImagePath,
		ImageMethod:      res.ImageMethod,
		MultiScene:       res.MultiScene,
		SceneCount:       res.SceneCount,
		ValidationScore:  res.ValidationScore,
		DetectionModel:   res.DetectionModel,
		DetectionMethod:  res.DetectionMethod,
		DetectionRetries: res.DetectionRetries,
	}
	run.Zones = marshalJSON(res.Zones)
	run.ZoneGroups = marshalJSON(res.Groups)
	run.Constraints = marshalJSON(res.Constraints)
	run.CollisionMeta = marshalJSON(res.CollisionMeta)
	run.Trace = marshalJSON(res.Trace)

	if _, err := s.runs.Create(ctx, nil, []*types.ZonePlanRun{run}); err != nil {
		s.log.Warn("could not persist zone plan run", "run_id", res.RunID, "error", err)
		return
	}

	if s.zoneRecords != nil && len(res.Zones) > 0 {
		records := make([]*types.ZoneRecord, 0, len(res.Zones))
		for _, z := range res.Zones {
			records = append(records, &types.ZoneRecord{
				ID:       uuid.New(),
				RunID:    res.RunID,
				ZoneID:   z.ID,
				Label:    z.Label,
				Shape:    string(z.Shape),
				Scene:    z.Scene,
				Level:    z.Level,
				ParentID: z.ParentID,
				Geometry: marshalJSON(z),
			})
		}
		if _, err := s.zoneRecords.Create(ctx, nil, records); err != nil {
			s.log.Warn("could not persist zone records", "run_id", res.RunID, "error", err)
		}
	}
}

func (s *zonePlannerService) broadcast(res *PlanResult) {
	if s.hub == nil {
		return
	}
	event := sse.SSEEventZonePlanCompleted
	if res.Status == types.PlanStatusError {
		event = sse.SSEEventZonePlanFailed
	}
	s.hub.Broadcast(sse.SSEMessage{
		Channel: sse.PlanChannel(res.RunID),
		Event:   event,
		Data:    res,
	})
}

// sceneBoundaryConstraints orders scenes: every root of scene n must be
// completed before any root of scene n+1 appears.
func (s *zonePlannerService) sceneBoundaryConstraints(zones []types.Zone, sceneCount int) []types.TemporalConstraint {
	rootsByScene := make(map[int][]string)
	for _, z := range zones {
		if z.IsRoot() {
			rootsByScene[z.Scene] = append(rootsByScene[z.Scene], z.ID)
		}
	}
	var out []types.TemporalConstraint
	for scene := 1; scene < sceneCount; scene++ {
		for _, a := range rootsByScene[scene] {
			for _, b := range rootsByScene[scene+1] {
				out = append(out, types.TemporalConstraint{
					ZoneA:    a,
					ZoneB:    b,
					Type:     types.ConstraintSequence,
					Reason:   visibility.ReasonSceneBoundary,
					Priority: s.priorities.SceneBoundary,
				})
			}
		}
	}
	return out
}

// assignScenes distributes zones across scenes: explicit hints win, then
// whole root trees pack into scenes under the per-scene label budget.
func assignScenes(zones []types.Zone, hints map[string]int, maxPerScene int) int {
	if maxPerScene <= 0 {
		maxPerScene = 12
	}

	byID := make(map[string]int, len(zones))
	for i, z := range zones {
		byID[z.ID] = i
	}
	rootOf := func(z types.Zone) string {
		cur := z
		visited := map[string]bool{}
		for cur.ParentID != "" && !visited[cur.ID] {
			visited[cur.ID] = true
			pi, ok := byID[cur.ParentID]
			if !ok {
				break
			}
			cur = zones[pi]
		}
		return cur.ID
	}

	// Pack root trees into scenes in zone order.
	sceneOfRoot := make(map[string]int)
	scene := 1
	count := 0
	for _, z := range zones {
		if !z.IsRoot() {
			continue
		}
		treeSize := 1
		for _, other := range zones {
			if !other.IsRoot() && rootOf(other) == z.ID {
				treeSize++
			}
		}
		if count > 0 && count+treeSize > maxPerScene {
			scene++
			count = 0
		}
		sceneOfRoot[z.ID] = scene
		count += treeSize
	}

	maxScene := scene
	for i := range zones {
		if hinted, ok := hints[zones[i].Label]; ok && hinted > 0 {
			zones[i].Scene = hinted
		} else {
			zones[i].Scene = sceneOfRoot[rootOf(zones[i])]
		}
		if zones[i].Scene == 0 {
			zones[i].Scene = 1
		}
		if zones[i].Scene > maxScene {
			maxScene = zones[i].Scene
		}
	}
	return maxScene
}

func relationshipsFromGroups(groups []types.ZoneGroup) map[string][]string {
	if len(groups) == 0 {
		return nil
	}
	out := make(map[string][]string, len(groups))
	for _, g := range groups {
		out[g.ParentID] = append(out[g.ParentID], g.Children...)
	}
	return out
}

func zoneIDsForLabels(zones []types.Zone, labels []string) []string {
	byLabel := make(map[string]string, len(zones))
	for _, z := range zones {
		byLabel[normalizeLabel(z.Label)] = z.ID
	}
	var out []string
	for _, l := range labels {
		if id, ok := byLabel[normalizeLabel(l)]; ok {
			out = append(out, id)
		}
	}
	return out
}

func normalizeLabel(l string) string {
	return strings.ToLower(strings.TrimSpace(l))
}

func maxLevel(zones []types.Zone) int {
	depth := 0
	for _, z := range zones {
		if z.Level > depth {
			depth = z.Level
		}
	}
	return depth
}

func marshalJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
