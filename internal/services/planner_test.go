package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/yungbote/diagramlab-backend/internal/repos"
	"github.com/yungbote/diagramlab-backend/internal/types"
	"github.com/yungbote/diagramlab-backend/internal/visibility"
)

func plannerWith(acq *AcquisitionResult, det *DetectionResult, col *fakeCollision, repo repos.ZonePlanRunRepo, scenes ScenePolicy) ZonePlannerService {
	return NewZonePlannerService(
		nil,
		testLog(),
		nil,
		&fakeAcquisition{result: acq},
		&fakeDetection{result: det},
		col,
		repo,
		nil,
		nil,
		visibility.DefaultPriorityConfig(),
		scenes,
	)
}

func okAcquisition() *AcquisitionResult {
	return &AcquisitionResult{
		Status:    types.PlanStatusSuccess,
		ImagePath: "/cache/cell.png",
		Method:    AcquireMethodWebSearch,
		Trace:     []types.TraceEntry{{Action: "image_search"}},
	}
}

func okDetection(zones []types.Zone, groups []types.ZoneGroup) *DetectionResult {
	return &DetectionResult{
		Status:          types.PlanStatusSuccess,
		Zones:           zones,
		Groups:          groups,
		ValidationScore: 0.8,
		Retries:         1,
		Strategy:        "auto",
		Model:           "gcp_vision_v1",
		Trace:           []types.TraceEntry{{Action: "zone_detection"}},
	}
}

func cellPlanZones() ([]types.Zone, []types.ZoneGroup) {
	zones := []types.Zone{
		{ID: "cell", Label: "Cell", Shape: types.ZoneShapePolygon, Scene: 1, Level: 1},
		{ID: "nucleus", Label: "Nucleus", Shape: types.ZoneShapeCircle, Scene: 1, Level: 2, ParentID: "cell"},
		{ID: "membrane", Label: "Membrane", Shape: types.ZoneShapePolygon, Scene: 1, Level: 2, ParentID: "cell"},
	}
	groups := []types.ZoneGroup{{ParentID: "cell", Children: []string{"nucleus", "membrane"}}}
	return zones, groups
}

func TestPlanZonesHappyPath(t *testing.T) {
	zones, groups := cellPlanZones()
	col := &fakeCollision{}
	repo := &fakeRunRepo{}
	svc := plannerWith(okAcquisition(), okDetection(zones, groups), col, repo, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the cell",
		Subject:      "biology",
		Labels:       []string{"Cell", "Nucleus", "Membrane"},
	})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}
	if res.Status != types.PlanStatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.ValidationError)
	}
	if res.MultiScene || res.SceneCount != 1 {
		t.Fatalf("small plan should stay single-scene, got multi=%v count=%d", res.MultiScene, res.SceneCount)
	}
	if len(res.Zones) != 3 {
		t.Fatalf("expected 3 zones, got %d", len(res.Zones))
	}
	if len(res.Constraints) == 0 {
		t.Fatalf("expected hierarchy constraints")
	}
	for _, c := range res.Constraints {
		if c.Type != types.ConstraintConcurrent {
			t.Fatalf("cell hierarchy should only yield concurrent constraints, got %s (%s->%s)", c.Type, c.ZoneA, c.ZoneB)
		}
	}
	// Collision resolver saw the detected zones plus the group relationships.
	if col.lastReq == nil || len(col.lastReq.Zones) != 3 {
		t.Fatalf("collision resolver did not receive zones")
	}
	if len(col.lastReq.Relationships["cell"]) != 2 {
		t.Fatalf("expected cell relationships forwarded, got %v", col.lastReq.Relationships)
	}
	// Run persisted.
	if len(repo.created) != 1 {
		t.Fatalf("expected 1 persisted run, got %d", len(repo.created))
	}
	if repo.created[0].Status != types.PlanStatusSuccess {
		t.Fatalf("persisted status %q", repo.created[0].Status)
	}
	// Phases left their trace in order.
	var actions []string
	for _, e := range res.Trace {
		actions = append(actions, e.Action)
	}
	joined := strings.Join(actions, ",")
	if !strings.Contains(joined, "image_search") || !strings.Contains(joined, "zone_detection") ||
		!strings.Contains(joined, "collision_resolution") || !strings.Contains(joined, "constraint_generation") {
		t.Fatalf("trace missing phases: %v", actions)
	}
}

func TestPlanZonesPedagogicalOrder(t *testing.T) {
	zones, groups := cellPlanZones()
	svc := plannerWith(okAcquisition(), okDetection(zones, groups), &fakeCollision{}, nil, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText:   "Label the parts of the cell",
		Labels:         []string{"Cell", "Nucleus", "Membrane"},
		SuggestedOrder: []string{"Membrane", "Nucleus"},
	})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}

	var hint *types.TemporalConstraint
	for i, c := range res.Constraints {
		if c.Type == types.ConstraintBefore {
			hint = &res.Constraints[i]
		}
	}
	if hint == nil {
		t.Fatalf("expected a before hint from the suggested order")
	}
	if hint.ZoneA != "membrane" || hint.ZoneB != "nucleus" {
		t.Fatalf("hint should map labels to zone ids, got %s->%s", hint.ZoneA, hint.ZoneB)
	}
	if hint.Priority != visibility.DefaultPriorityConfig().Pedagogical {
		t.Fatalf("hint priority %d", hint.Priority)
	}
	// Hints sort to the tail of the list.
	if res.Constraints[len(res.Constraints)-1].Type != types.ConstraintBefore {
		t.Fatalf("pedagogical hint should sort last")
	}
}

func TestPlanZonesAcquisitionFailure(t *testing.T) {
	failed := &AcquisitionResult{
		Status:        types.PlanStatusError,
		FailureReason: "no suitable image found after 2 search attempts",
		Trace:         []types.TraceEntry{{Action: "image_search"}, {Action: "image_search"}},
	}
	repo := &fakeRunRepo{}
	svc := plannerWith(failed, nil, &fakeCollision{}, repo, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the volcano",
		Labels:       []string{"Crater"},
	})
	if err != nil {
		t.Fatalf("phase failures must not surface as errors: %v", err)
	}
	if res.Status != types.PlanStatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if !strings.Contains(res.ValidationError, "image acquisition failed") {
		t.Fatalf("unexpected validation error %q", res.ValidationError)
	}
	if len(res.Trace) != 2 {
		t.Fatalf("failure result must keep the accumulated trace, got %d entries", len(res.Trace))
	}
	if len(repo.created) != 1 || repo.created[0].Status != types.PlanStatusError {
		t.Fatalf("failed run should still be persisted")
	}
}

func TestPlanZonesCollisionFailure(t *testing.T) {
	zones, groups := cellPlanZones()
	col := &fakeCollision{err: fmt.Errorf("resolver unavailable: 503")}
	svc := plannerWith(okAcquisition(), okDetection(zones, groups), col, nil, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the cell",
		Labels:       []string{"Cell"},
	})
	if err != nil {
		t.Fatalf("phase failures must not surface as errors: %v", err)
	}
	if res.Status != types.PlanStatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if !strings.Contains(res.ValidationError, "collision resolution failed") {
		t.Fatalf("unexpected validation error %q", res.ValidationError)
	}
}

func TestPlanZonesDegradedDetection(t *testing.T) {
	zones, groups := cellPlanZones()
	det := okDetection(zones, groups)
	det.Status = types.PlanStatusDegraded
	det.ValidationScore = 0.3
	svc := plannerWith(okAcquisition(), det, &fakeCollision{}, nil, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the cell",
		Labels:       []string{"Cell", "Nucleus", "Membrane"},
	})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}
	if res.Status != types.PlanStatusDegraded {
		t.Fatalf("degraded detection should degrade the plan, got %s", res.Status)
	}
	if len(res.Zones) == 0 {
		t.Fatalf("degraded plan still carries zones")
	}
}

func TestPlanZonesNoLabels(t *testing.T) {
	svc := plannerWith(okAcquisition(), nil, &fakeCollision{}, nil, DefaultScenePolicy())

	res, err := svc.PlanZones(context.Background(), PlanRequest{QuestionText: "Label the parts of the cell"})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}
	if res.Status != types.PlanStatusError {
		t.Fatalf("expected error status without labels, got %s", res.Status)
	}
}

func TestPlanZonesKnowledgeLookup(t *testing.T) {
	zones, groups := cellPlanZones()
	knowledge := &fakeKnowledge{dk: &DomainKnowledge{
		CanonicalLabels: []string{"Cell", "Nucleus", "Membrane"},
		Hierarchy:       map[string][]string{"Cell": {"Nucleus", "Membrane"}},
	}}
	svc := NewZonePlannerService(
		nil, testLog(), knowledge,
		&fakeAcquisition{result: okAcquisition()},
		&fakeDetection{result: okDetection(zones, groups)},
		&fakeCollision{}, nil, nil, nil,
		visibility.DefaultPriorityConfig(), DefaultScenePolicy(),
	)

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the cell",
		Subject:      "biology",
	})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}
	if res.Status != types.PlanStatusSuccess {
		t.Fatalf("expected success via knowledge labels, got %s (%s)", res.Status, res.ValidationError)
	}
	if res.Trace[0].Action != "knowledge_lookup" {
		t.Fatalf("expected knowledge lookup first in trace, got %q", res.Trace[0].Action)
	}
}

func TestPlanZonesMultiScene(t *testing.T) {
	zones := []types.Zone{
		{ID: "heart", Label: "Heart", Scene: 1, Level: 1},
		{ID: "atrium", Label: "Atrium", Scene: 1, Level: 2, ParentID: "heart"},
		{ID: "lungs", Label: "Lungs", Scene: 1, Level: 1},
		{ID: "alveoli", Label: "Alveoli", Scene: 1, Level: 2, ParentID: "lungs"},
	}
	groups := []types.ZoneGroup{
		{ParentID: "heart", Children: []string{"atrium"}},
		{ParentID: "lungs", Children: []string{"alveoli"}},
	}
	// Two labels per scene forces one root tree per scene.
	policy := ScenePolicy{MaxLabelsPerScene: 2, MaxHierarchyDepth: 3}
	svc := plannerWith(okAcquisition(), okDetection(zones, groups), &fakeCollision{}, nil, policy)

	res, err := svc.PlanZones(context.Background(), PlanRequest{
		QuestionText: "Label the parts of the circulatory system",
		Labels:       []string{"Heart", "Atrium", "Lungs", "Alveoli"},
	})
	if err != nil {
		t.Fatalf("PlanZones returned error: %v", err)
	}
	if !res.MultiScene {
		t.Fatalf("expected multi-scene plan")
	}
	if res.SceneCount != 2 {
		t.Fatalf("expected 2 scenes, got %d", res.SceneCount)
	}

	sceneOf := map[string]int{}
	for _, z := range res.Zones {
		sceneOf[z.ID] = z.Scene
	}
	if sceneOf["heart"] != 1 || sceneOf["atrium"] != 1 {
		t.Fatalf("heart tree should land in scene 1, got %v", sceneOf)
	}
	if sceneOf["lungs"] != 2 || sceneOf["alveoli"] != 2 {
		t.Fatalf("lungs tree should land in scene 2, got %v", sceneOf)
	}

	var boundary *types.TemporalConstraint
	for i, c := range res.Constraints {
		if c.Reason == visibility.ReasonSceneBoundary {
			boundary = &res.Constraints[i]
		}
	}
	if boundary == nil {
		t.Fatalf("expected a scene boundary constraint")
	}
	if boundary.Type != types.ConstraintSequence {
		t.Fatalf("boundary must be a sequence constraint, got %s", boundary.Type)
	}
	if boundary.ZoneA != "heart" || boundary.ZoneB != "lungs" {
		t.Fatalf("boundary should link consecutive scene roots, got %s->%s", boundary.ZoneA, boundary.ZoneB)
	}
	if boundary.Priority != visibility.DefaultPriorityConfig().SceneBoundary {
		t.Fatalf("boundary priority %d", boundary.Priority)
	}
}

func TestPlanBatch(t *testing.T) {
	zones, groups := cellPlanZones()
	svc := plannerWith(okAcquisition(), okDetection(zones, groups), &fakeCollision{}, nil, DefaultScenePolicy())

	reqs := []PlanRequest{
		{QuestionText: "Label the parts of the cell", Labels: []string{"Cell", "Nucleus", "Membrane"}},
		{QuestionText: "Label the parts of the cell", Labels: []string{"Cell", "Nucleus", "Membrane"}},
		{QuestionText: "Label the parts of the cell"},
	}
	results, err := svc.PlanBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("PlanBatch returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != types.PlanStatusSuccess || results[1].Status != types.PlanStatusSuccess {
		t.Fatalf("labeled requests should succeed")
	}
	if results[2].Status != types.PlanStatusError {
		t.Fatalf("label-less request should produce a structured failure, got %s", results[2].Status)
	}
}
