package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// Handler exposes the sandbox lifecycle to route callers. The status
// mapping lives here: lock contention is 429, budget timeout is 504,
// everything else is a structured 200/4xx/5xx.
type Handler struct {
	manager SandboxManager
	health  HealthChecker
}

func NewHandler(manager SandboxManager, health HealthChecker) *Handler {
	return &Handler{manager: manager, health: health}
}

// EnsureReady brings the project's sandbox and dev server up and
// returns the preview URL.
func (h *Handler) EnsureReady(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project id required"})
		return
	}

	result, err := h.manager.EnsureSandboxReady(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "operation in progress, retry shortly"})
			return
		}
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch result.Status {
	case domain.ReadyStatusTimeout:
		c.JSON(http.StatusGatewayTimeout, result)
	case domain.ReadyStatusError:
		c.JSON(http.StatusInternalServerError, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// Status reports the coarse record-derived sandbox state.
func (h *Handler) Status(c *gin.Context) {
	projectID := c.Param("id")
	status := h.manager.GetStatus(c.Request.Context(), projectID)
	c.JSON(http.StatusOK, statusResponse{ProjectID: projectID, Status: status})
}

// Health runs the advisory health check. Restoration is opt-in via
// ?restore=true.
func (h *Handler) Health(c *gin.Context) {
	projectID := c.Param("id")
	autoRestore := c.Query("restore") == "true"

	result := h.health.CheckHealth(c.Request.Context(), projectID, autoRestore)
	c.JSON(http.StatusOK, result)
}

// Pause suspends the project's sandbox.
func (h *Handler) Pause(c *gin.Context) {
	projectID := c.Param("id")

	err := h.manager.Pause(c.Request.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLockContention):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "operation in progress, retry shortly"})
		case errors.Is(err, domain.ErrProjectNotFound), errors.Is(err, domain.ErrNoBinding):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// WriteFiles writes files into the live sandbox, mirroring them to the
// backup store.
func (h *Handler) WriteFiles(c *gin.Context) {
	projectID := c.Param("id")

	var body writeFilesRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(body.Files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files required"})
		return
	}

	err := h.manager.WriteProjectFiles(c.Request.Context(), projectID, body.Files)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLockContention):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "operation in progress, retry shortly"})
		case errors.Is(err, domain.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		case errors.Is(err, domain.ErrRestorationExhausted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"written": len(body.Files)})
}

// Decommission kills the sandbox and drops the binding.
func (h *Handler) Decommission(c *gin.Context) {
	projectID := c.Param("id")

	if err := h.manager.Decommission(c.Request.Context(), projectID); err != nil {
		switch {
		case errors.Is(err, domain.ErrLockContention):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "operation in progress, retry shortly"})
		case errors.Is(err, domain.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "decommissioned"})
}
