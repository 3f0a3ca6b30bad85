package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/diagramlab-backend/internal/clients/redis"
	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/repos"
	"github.com/yungbote/diagramlab-backend/internal/sse"
	"github.com/yungbote/diagramlab-backend/internal/types"
	"github.com/yungbote/diagramlab-backend/internal/visibility"
)

// VisibilityState is the client-facing view of one run at one moment:
// which zones may be shown, which are held back, and what the learner has
// already labeled.
type VisibilityState struct {
	RunID     uuid.UUID `json:"run_id"`
	Scene     int       `json:"scene"`
	Visible   []string  `json:"visible"`
	Blocked   []string  `json:"blocked"`
	Completed []string  `json:"completed"`
}

// ZoneSessionService tracks labeling progress per plan run and recomputes
// visibility through the constraint resolver on every completion event.
type ZoneSessionService interface {
	Register(result *PlanResult) error
	Load(ctx context.Context, runID uuid.UUID) error
	Visibility(runID uuid.UUID, scene int) (*VisibilityState, error)
	MarkLabeled(ctx context.Context, runID uuid.UUID, zoneID string, scene int) (*VisibilityState, error)
}

type sessionState struct {
	zones     []types.Zone
	resolver  *visibility.Resolver
	completed map[string]bool
}

type zoneSessionService struct {
	log  *logger.Logger
	runs repos.ZonePlanRunRepo
	hub  *sse.SSEHub
	bus  redis.VisibilityBus

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

func NewZoneSessionService(baseLog *logger.Logger, runs repos.ZonePlanRunRepo, hub *sse.SSEHub, bus redis.VisibilityBus) ZoneSessionService {
	return &zoneSessionService{
		log:      baseLog.With("service", "ZoneSessionService"),
		runs:     runs,
		hub:      hub,
		bus:      bus,
		sessions: make(map[uuid.UUID]*sessionState),
	}
}

// Register installs a freshly planned run so labeling can begin without a
// database round trip.
func (s *zoneSessionService) Register(result *PlanResult) error {
	if result == nil {
		return fmt.Errorf("nil plan result")
	}
	if result.Status == types.PlanStatusError {
		return fmt.Errorf("run %s has no usable plan: %s", result.RunID, result.ValidationError)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[result.RunID] = &sessionState{
		zones:     result.Zones,
		resolver:  visibility.NewResolver(result.Constraints),
		completed: make(map[string]bool),
	}
	return nil
}

// Load hydrates a session from a persisted run. Completed state starts
// empty: labeling progress is per sitting, not per run row.
func (s *zoneSessionService) Load(ctx context.Context, runID uuid.UUID) error {
	if s.runs == nil {
		return fmt.Errorf("no run repository configured")
	}
	rows, err := s.runs.GetByIDs(ctx, nil, []uuid.UUID{runID})
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	run := rows[0]
	if run.Status == types.PlanStatusError {
		return fmt.Errorf("run %s has no usable plan: %s", runID, run.ValidationError)
	}

	var zones []types.Zone
	if len(run.Zones) > 0 {
		if err := json.Unmarshal(run.Zones, &zones); err != nil {
			return fmt.Errorf("decode zones for run %s: %w", runID, err)
		}
	}
	var constraints []types.TemporalConstraint
	if len(run.Constraints) > 0 {
		if err := json.Unmarshal(run.Constraints, &constraints); err != nil {
			return fmt.Errorf("decode constraints for run %s: %w", runID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[runID] = &sessionState{
		zones:     zones,
		resolver:  visibility.NewResolver(constraints),
		completed: make(map[string]bool),
	}
	return nil
}

func (s *zoneSessionService) Visibility(runID uuid.UUID, scene int) (*VisibilityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[runID]
	if !ok {
		return nil, fmt.Errorf("no session for run %s", runID)
	}
	return snapshot(runID, st, scene), nil
}

// MarkLabeled records a completed zone and returns the recomputed state.
// Completing the same zone twice is a no-op, and unknown zone ids are
// rejected before they can pollute the completed set.
func (s *zoneSessionService) MarkLabeled(ctx context.Context, runID uuid.UUID, zoneID string, scene int) (*VisibilityState, error) {
	s.mu.Lock()
	st, ok := s.sessions[runID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("no session for run %s", runID)
	}
	if !zoneExists(st.zones, zoneID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("run %s has no zone %q", runID, zoneID)
	}
	already := st.completed[zoneID]
	st.completed[zoneID] = true
	state := snapshot(runID, st, scene)
	s.mu.Unlock()

	if !already {
		s.publish(ctx, state)
	}
	return state, nil
}

func (s *zoneSessionService) publish(ctx context.Context, state *VisibilityState) {
	msg := sse.SSEMessage{
		Channel: sse.PlanChannel(state.RunID),
		Event:   sse.SSEEventZoneVisibilityChanged,
		Data:    state,
	}
	// With a redis bus the forwarder delivers to the local hub too, so
	// publishing both ways would duplicate events.
	if s.bus != nil {
		if err := s.bus.Publish(ctx, msg); err != nil {
			s.log.Warn("could not publish visibility change", "run_id", state.RunID, "error", err)
		}
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}

func snapshot(runID uuid.UUID, st *sessionState, scene int) *VisibilityState {
	visible, blocked := st.resolver.VisibleZones(st.zones, st.completed, scene)
	return &VisibilityState{
		RunID:     runID,
		Scene:     scene,
		Visible:   sortedKeys(visible),
		Blocked:   sortedKeys(blocked),
		Completed: sortedKeys(st.completed),
	}
}

func zoneExists(zones []types.Zone, id string) bool {
	for _, z := range zones {
		if z.ID == id {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
