package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// SandboxManager is the lifecycle surface the routes call.
// *service.Manager is the production implementation.
type SandboxManager interface {
	EnsureSandboxReady(ctx context.Context, projectID string) (*domain.ReadyResult, error)
	GetStatus(ctx context.Context, projectID string) string
	Pause(ctx context.Context, projectID string) error
	WriteProjectFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error
	Decommission(ctx context.Context, projectID string) error
}

// HealthChecker is the advisory health surface.
type HealthChecker interface {
	CheckHealth(ctx context.Context, projectID string, autoRestore bool) domain.HealthResult
}

// Register mounts the sandbox routes under the given group.
func Register(r gin.IRouter, h *Handler) {
	projects := r.Group("/projects/:id/sandbox")
	projects.POST("/ready", h.EnsureReady)
	projects.GET("/status", h.Status)
	projects.GET("/health", h.Health)
	projects.POST("/pause", h.Pause)
	projects.POST("/files", h.WriteFiles)
	projects.DELETE("", h.Decommission)
}
