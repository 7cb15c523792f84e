package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

type stubManager struct {
	readyResult *domain.ReadyResult
	readyErr    error
	status      string
	pauseErr    error
	writeErr    error
	decommErr   error

	wroteFiles []domain.ProjectFile
}

func (s *stubManager) EnsureSandboxReady(ctx context.Context, projectID string) (*domain.ReadyResult, error) {
	return s.readyResult, s.readyErr
}

func (s *stubManager) GetStatus(ctx context.Context, projectID string) string {
	return s.status
}

func (s *stubManager) Pause(ctx context.Context, projectID string) error {
	return s.pauseErr
}

func (s *stubManager) WriteProjectFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error {
	s.wroteFiles = files
	return s.writeErr
}

func (s *stubManager) Decommission(ctx context.Context, projectID string) error {
	return s.decommErr
}

type stubHealth struct {
	result      domain.HealthResult
	autoRestore bool
}

func (s *stubHealth) CheckHealth(ctx context.Context, projectID string, autoRestore bool) domain.HealthResult {
	s.autoRestore = autoRestore
	return s.result
}

func setupRouter(m *stubManager, h *stubHealth) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, NewHandler(m, h))
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnsureReadyOK(t *testing.T) {
	m := &stubManager{readyResult: &domain.ReadyResult{
		ProjectID:  "p1",
		SandboxID:  "sb-1",
		PreviewURL: "https://3000-sb-1.e2b.app",
		Status:     domain.ReadyStatusReady,
	}}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.ReadyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://3000-sb-1.e2b.app", resp.PreviewURL)
	assert.Equal(t, domain.ReadyStatusReady, resp.Status)
}

func TestEnsureReadyStartingIsStill200(t *testing.T) {
	m := &stubManager{readyResult: &domain.ReadyResult{
		ProjectID: "p1",
		Status:    domain.ReadyStatusStarting,
	}}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnsureReadyLockContentionIs429(t *testing.T) {
	m := &stubManager{readyErr: fmt.Errorf("lock: %w", domain.ErrLockContention)}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/ready", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestEnsureReadyTimeoutIs504(t *testing.T) {
	m := &stubManager{readyResult: &domain.ReadyResult{
		ProjectID: "p1",
		Status:    domain.ReadyStatusTimeout,
	}}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/ready", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestEnsureReadyUnknownProjectIs404(t *testing.T) {
	m := &stubManager{readyErr: fmt.Errorf("get: %w", domain.ErrProjectNotFound)}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/ghost/sandbox/ready", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	m := &stubManager{status: domain.StatusPaused}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodGet, "/projects/p1/sandbox/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.ProjectID)
	assert.Equal(t, domain.StatusPaused, resp.Status)
}

func TestHealthEndpointPassesRestoreFlag(t *testing.T) {
	h := &stubHealth{result: domain.HealthResult{ProjectID: "p1", Status: domain.HealthExpired}}
	r := setupRouter(&stubManager{}, h)

	w := doRequest(r, http.MethodGet, "/projects/p1/sandbox/health?restore=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.autoRestore)

	doRequest(r, http.MethodGet, "/projects/p1/sandbox/health", nil)
	assert.False(t, h.autoRestore)
}

func TestPauseEndpoint(t *testing.T) {
	r := setupRouter(&stubManager{}, &stubHealth{})
	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPauseNoBindingIs404(t *testing.T) {
	m := &stubManager{pauseErr: fmt.Errorf("pause: %w", domain.ErrNoBinding)}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteFiles(t *testing.T) {
	m := &stubManager{}
	r := setupRouter(m, &stubHealth{})

	body := map[string]interface{}{
		"files": []map[string]string{{"path": "app/page.tsx", "content": "x"}},
	}
	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/files", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m.wroteFiles, 1)
	assert.Equal(t, "app/page.tsx", m.wroteFiles[0].Path)
}

func TestWriteFilesEmptyBodyIs400(t *testing.T) {
	r := setupRouter(&stubManager{}, &stubHealth{})

	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/files", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteFilesRestorationExhaustedIs409(t *testing.T) {
	m := &stubManager{writeErr: fmt.Errorf("write: %w", domain.ErrRestorationExhausted)}
	r := setupRouter(m, &stubHealth{})

	body := map[string]interface{}{
		"files": []map[string]string{{"path": "a.ts", "content": "x"}},
	}
	w := doRequest(r, http.MethodPost, "/projects/p1/sandbox/files", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDecommissionEndpoint(t *testing.T) {
	r := setupRouter(&stubManager{}, &stubHealth{})
	w := doRequest(r, http.MethodDelete, "/projects/p1/sandbox", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDecommissionErrorIs500(t *testing.T) {
	m := &stubManager{decommErr: errors.New("provider unreachable")}
	r := setupRouter(m, &stubHealth{})

	w := doRequest(r, http.MethodDelete, "/projects/p1/sandbox", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
