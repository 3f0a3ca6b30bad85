package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/repos"
	"github.com/yungbote/diagramlab-backend/internal/services"
	"github.com/yungbote/diagramlab-backend/internal/types"
)

type ZonePlanHandler struct {
	log      *logger.Logger
	planner  services.ZonePlannerService
	sessions services.ZoneSessionService
	overlay  services.OverlayService
	runRepo  repos.ZonePlanRunRepo
	zoneRepo repos.ZoneRecordRepo
}

func NewZonePlanHandler(
	log *logger.Logger,
	planner services.ZonePlannerService,
	sessions services.ZoneSessionService,
	overlay services.OverlayService,
	runRepo repos.ZonePlanRunRepo,
	zoneRepo repos.ZoneRecordRepo,
) *ZonePlanHandler {
	return &ZonePlanHandler{
		log:      log.With("handler", "ZonePlanHandler"),
		planner:  planner,
		sessions: sessions,
		overlay:  overlay,
		runRepo:  runRepo,
		zoneRepo: zoneRepo,
	}
}

// POST /api/zone-plans
// Plan zones for one question. Phase failures come back as a 200 with
// status "error" and a validation_error; only malformed requests 4xx.
func (h *ZonePlanHandler) PlanZones(c *gin.Context) {
	var req services.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.QuestionText == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("question_text is required"))
		return
	}

	res, err := h.planner.PlanZones(c.Request.Context(), req)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "plan_failed", err)
		return
	}
	if res.Status != types.PlanStatusError {
		if err := h.sessions.Register(res); err != nil {
			h.log.Warn("could not register labeling session", "run_id", res.RunID, "error", err)
		}
	}
	RespondOK(c, res)
}

// POST /api/zone-plans/batch
func (h *ZonePlanHandler) PlanZonesBatch(c *gin.Context) {
	var req struct {
		Questions []services.PlanRequest `json:"questions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Questions) == 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("questions is empty"))
		return
	}

	results, err := h.planner.PlanBatch(c.Request.Context(), req.Questions)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "plan_failed", err)
		return
	}
	for _, res := range results {
		if res.Status != types.PlanStatusError {
			if err := h.sessions.Register(res); err != nil {
				h.log.Warn("could not register labeling session", "run_id", res.RunID, "error", err)
			}
		}
	}
	RespondOK(c, gin.H{"results": results})
}

// GET /api/zone-plans/:id
func (h *ZonePlanHandler) GetZonePlan(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	runs, err := h.runRepo.GetByIDs(c.Request.Context(), nil, []uuid.UUID{runID})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if len(runs) == 0 {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("zone plan %s not found", runID))
		return
	}
	RespondOK(c, runs[0])
}

// GET /api/zone-plans?subject=biology&limit=20
func (h *ZonePlanHandler) ListZonePlans(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("subject query param is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.runRepo.GetBySubject(c.Request.Context(), nil, subject, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"plans": runs})
}

// DELETE /api/zone-plans/:id
func (h *ZonePlanHandler) DeleteZonePlan(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.runRepo.SoftDeleteByIDs(c.Request.Context(), nil, []uuid.UUID{runID}); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/zone-plans/:id/zones
func (h *ZonePlanHandler) ListZones(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	zones, err := h.zoneRepo.GetByRunIDs(c.Request.Context(), nil, []uuid.UUID{runID})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"zones": zones})
}

// POST /api/zone-plans/:id/session
// Rehydrate a labeling session from the persisted run.
func (h *ZonePlanHandler) LoadSession(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	if err := h.sessions.Load(c.Request.Context(), runID); err != nil {
		RespondError(c, http.StatusNotFound, "session_load_failed", err)
		return
	}
	state, err := h.sessions.Visibility(runID, sceneParam(c))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "visibility_failed", err)
		return
	}
	RespondOK(c, state)
}

// GET /api/zone-plans/:id/visibility?scene=1
func (h *ZonePlanHandler) GetVisibility(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	state, err := h.sessions.Visibility(runID, sceneParam(c))
	if err != nil {
		RespondError(c, http.StatusNotFound, "no_session", err)
		return
	}
	RespondOK(c, state)
}

// POST /api/zone-plans/:id/events/zone-labeled
func (h *ZonePlanHandler) ZoneLabeled(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req struct {
		ZoneID string `json:"zone_id"`
		Scene  int    `json:"scene"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.ZoneID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("zone_id is required"))
		return
	}

	state, err := h.sessions.MarkLabeled(c.Request.Context(), runID, req.ZoneID, req.Scene)
	if err != nil {
		RespondError(c, http.StatusNotFound, "label_event_failed", err)
		return
	}
	RespondOK(c, state)
}

// GET /api/zone-plans/:id/overlay
// Debug PNG of the run's zones over its source image.
func (h *ZonePlanHandler) GetOverlay(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	runs, err := h.runRepo.GetByIDs(c.Request.Context(), nil, []uuid.UUID{runID})
	if err != nil || len(runs) == 0 {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("zone plan %s not found", runID))
		return
	}
	res, err := planResultFromRun(runs[0])
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "decode_failed", err)
		return
	}

	var state *services.VisibilityState
	if s, err := h.sessions.Visibility(runID, sceneParam(c)); err == nil {
		state = s
	}

	buf, err := h.overlay.RenderPlan(c.Request.Context(), res, state)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "render_failed", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func sceneParam(c *gin.Context) int {
	scene, err := strconv.Atoi(c.DefaultQuery("scene", "0"))
	if err != nil {
		return 0
	}
	return scene
}

func planResultFromRun(run *types.ZonePlanRun) (*services.PlanResult, error) {
	res := &services.PlanResult{
		RunID:      run.ID,
		Status:     run.Status,
		ImagePath:  run.ImagePath,
		SceneCount: run.SceneCount,
		MultiScene: run.MultiScene,
	}
	if len(run.Zones) > 0 {
		if err := json.Unmarshal(run.Zones, &res.Zones); err != nil {
			return nil, fmt.Errorf("decode zones: %w", err)
		}
	}
	if len(run.Constraints) > 0 {
		if err := json.Unmarshal(run.Constraints, &res.Constraints); err != nil {
			return nil, fmt.Errorf("decode constraints: %w", err)
		}
	}
	return res, nil
}
