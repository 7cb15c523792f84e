package http

import "github.com/craftfast/sandbox-backend/internal/sandbox/domain"

type writeFilesRequest struct {
	Files []domain.ProjectFile `json:"files" binding:"required"`
}

type statusResponse struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}
