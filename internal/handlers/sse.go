package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/diagramlab-backend/internal/logger"
	"github.com/yungbote/diagramlab-backend/internal/sse"
)

type SSEHandler struct {
	Log *logger.Logger
	Hub *sse.SSEHub

	mu      sync.RWMutex
	clients map[uuid.UUID]*sse.SSEClient
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		Log:     log.With("handler", "SSEHandler"),
		Hub:     hub,
		clients: make(map[uuid.UUID]*sse.SSEClient),
	}
}

// GET /sse/stream?run_id=<uuid>
// Opens the event stream. The response carries the client id in the
// X-SSE-Client-ID header so subscribe/unsubscribe can reference it.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	client := h.Hub.NewSSEClient()

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	if raw := c.Query("run_id"); raw != "" {
		runID, err := uuid.Parse(raw)
		if err != nil {
			h.mu.Lock()
			delete(h.clients, client.ID)
			h.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
			return
		}
		h.Hub.AddChannel(client, sse.PlanChannel(runID))
	}

	c.Writer.Header().Set("X-SSE-Client-ID", client.ID.String())
	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.Hub.CloseClient(client)
}

// POST /sse/subscribe  {"client_id": "...", "run_id": "..."}
func (h *SSEHandler) SSESubscribe(c *gin.Context) {
	client, runID, ok := h.bindSubscription(c)
	if !ok {
		return
	}
	h.Hub.AddChannel(client, sse.PlanChannel(runID))
	c.JSON(http.StatusOK, gin.H{"message": "subscribed", "channel": sse.PlanChannel(runID)})
}

// POST /sse/unsubscribe  {"client_id": "...", "run_id": "..."}
func (h *SSEHandler) SSEUnsubscribe(c *gin.Context) {
	client, runID, ok := h.bindSubscription(c)
	if !ok {
		return
	}
	h.Hub.RemoveChannel(client, sse.PlanChannel(runID))
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed", "channel": sse.PlanChannel(runID)})
}

func (h *SSEHandler) bindSubscription(c *gin.Context) (*sse.SSEClient, uuid.UUID, bool) {
	var req struct {
		ClientID string `json:"client_id"`
		RunID    string `json:"run_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return nil, uuid.Nil, false
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
		return nil, uuid.Nil, false
	}
	runID, err := uuid.Parse(req.RunID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
		return nil, uuid.Nil, false
	}

	h.mu.RLock()
	client, exists := h.clients[clientID]
	h.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusConflict, gin.H{"error": "no active SSE connection for this client"})
		return nil, uuid.Nil, false
	}
	return client, runID, true
}
