package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/diagramlab-backend/internal/types"
	"github.com/yungbote/diagramlab-backend/internal/visibility"
)

func sessionPlan(t *testing.T) *PlanResult {
	t.Helper()
	cfg := visibility.DefaultPriorityConfig()
	zones := []types.Zone{
		{ID: "cell", Label: "Cell", Scene: 1, Level: 1},
		{ID: "nucleus", Label: "Nucleus", Scene: 1, Level: 2, ParentID: "cell"},
		{ID: "legend", Label: "Legend", Scene: 1, Level: 1},
	}
	constraints := []types.TemporalConstraint{
		{ZoneA: "cell", ZoneB: "nucleus", Type: types.ConstraintConcurrent, Reason: visibility.ReasonParentChild, Priority: cfg.Hierarchy},
		{ZoneA: "cell", ZoneB: "legend", Type: types.ConstraintMutex, Reason: visibility.ReasonSpatialOverlap, Priority: cfg.SpatialMutex},
	}
	return &PlanResult{
		RunID:       uuid.New(),
		Status:      types.PlanStatusSuccess,
		Zones:       zones,
		Constraints: constraints,
		SceneCount:  1,
	}
}

func TestSessionRegisterAndVisibility(t *testing.T) {
	svc := NewZoneSessionService(testLog(), nil, nil, nil)
	plan := sessionPlan(t)

	if err := svc.Register(plan); err != nil {
		t.Fatalf("Register: %v", err)
	}

	state, err := svc.Visibility(plan.RunID, 0)
	if err != nil {
		t.Fatalf("Visibility: %v", err)
	}
	// cell seeds first and its mutex partner legend holds back; the child
	// waits for its parent.
	if got := state.Visible; len(got) != 1 || got[0] != "cell" {
		t.Fatalf("initial visible = %v", got)
	}
	if got := state.Blocked; len(got) != 1 || got[0] != "legend" {
		t.Fatalf("initial blocked = %v", got)
	}
	if len(state.Completed) != 0 {
		t.Fatalf("fresh session should have no completions, got %v", state.Completed)
	}
}

func TestSessionMarkLabeledRecomputes(t *testing.T) {
	svc := NewZoneSessionService(testLog(), nil, nil, nil)
	plan := sessionPlan(t)
	if err := svc.Register(plan); err != nil {
		t.Fatalf("Register: %v", err)
	}

	state, err := svc.MarkLabeled(context.Background(), plan.RunID, "cell", 0)
	if err != nil {
		t.Fatalf("MarkLabeled: %v", err)
	}
	if len(state.Completed) != 1 || state.Completed[0] != "cell" {
		t.Fatalf("completed = %v", state.Completed)
	}

	visible := map[string]bool{}
	for _, id := range state.Visible {
		visible[id] = true
	}
	if !visible["nucleus"] {
		t.Fatalf("completing the parent should reveal the child, visible = %v", state.Visible)
	}
	// Completed zones release their mutex partners.
	if !visible["legend"] {
		t.Fatalf("legend should unblock once its mutex partner is completed, visible = %v", state.Visible)
	}
	if len(state.Blocked) != 0 {
		t.Fatalf("nothing should stay blocked, got %v", state.Blocked)
	}
}

func TestSessionMarkLabeledIdempotent(t *testing.T) {
	svc := NewZoneSessionService(testLog(), nil, nil, nil)
	plan := sessionPlan(t)
	if err := svc.Register(plan); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, err := svc.MarkLabeled(context.Background(), plan.RunID, "cell", 0)
	if err != nil {
		t.Fatalf("MarkLabeled: %v", err)
	}
	second, err := svc.MarkLabeled(context.Background(), plan.RunID, "cell", 0)
	if err != nil {
		t.Fatalf("repeat MarkLabeled: %v", err)
	}
	if len(first.Completed) != len(second.Completed) {
		t.Fatalf("repeat completion changed state: %v vs %v", first.Completed, second.Completed)
	}
}

func TestSessionRejectsUnknownZone(t *testing.T) {
	svc := NewZoneSessionService(testLog(), nil, nil, nil)
	plan := sessionPlan(t)
	if err := svc.Register(plan); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.MarkLabeled(context.Background(), plan.RunID, "mitochondria", 0); err == nil {
		t.Fatalf("expected error for unknown zone id")
	}
}

func TestSessionRejectsFailedPlan(t *testing.T) {
	svc := NewZoneSessionService(testLog(), nil, nil, nil)
	plan := &PlanResult{RunID: uuid.New(), Status: types.PlanStatusError, ValidationError: "image acquisition failed"}

	if err := svc.Register(plan); err == nil {
		t.Fatalf("expected Register to reject a failed plan")
	}
}

func TestSessionLoadFromRepo(t *testing.T) {
	plan := sessionPlan(t)
	repo := &fakeRunRepo{created: []*types.ZonePlanRun{{
		ID:          plan.RunID,
		Status:      types.PlanStatusSuccess,
		Zones:       marshalJSON(plan.Zones),
		Constraints: marshalJSON(plan.Constraints),
	}}}

	svc := NewZoneSessionService(testLog(), repo, nil, nil)
	if err := svc.Load(context.Background(), plan.RunID); err != nil {
		t.Fatalf("Load: %v", err)
	}

	state, err := svc.Visibility(plan.RunID, 0)
	if err != nil {
		t.Fatalf("Visibility after Load: %v", err)
	}
	if len(state.Visible) == 0 {
		t.Fatalf("hydrated session should resolve visibility")
	}

	if err := svc.Load(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown run")
	}
}
