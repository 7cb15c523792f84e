package domain

import "time"

// ProjectSandbox is the persisted binding between a project and its one
// remote sandbox. SandboxID is the single arbitration point for who owns
// the remote resource; it is only mutated under the project's
// distributed lock, and only after the corresponding remote operation
// has confirmed success.
type ProjectSandbox struct {
	ProjectID       string            `json:"project_id"`
	SandboxID       string            `json:"sandbox_id,omitempty"`
	SandboxPausedAt *time.Time        `json:"sandbox_paused_at,omitempty"`
	LastBackupAt    *time.Time        `json:"last_backup_at,omitempty"`
	LastActiveAt    *time.Time        `json:"last_active_at,omitempty"`
	CodeFiles       map[string]string `json:"code_files,omitempty"` // coarse secondary backup
	EnvVars         map[string]string `json:"env_vars,omitempty"`   // values encrypted at rest
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// SandboxState is the explicit lifecycle state computed from the stored
// binding plus (for health checks) a live provider probe. It replaces
// guessing from nullable timestamps alone.
type SandboxState string

const (
	StateUninitialized SandboxState = "uninitialized"
	StateRunning       SandboxState = "running"
	StatePaused        SandboxState = "paused"
	StateExpired       SandboxState = "expired"
)

// State classifies the binding from the record alone. StateExpired is
// never derived here: only a provider-confirmed not-found proves a
// sandbox gone, so the health monitor assigns it after a live probe.
func (p *ProjectSandbox) State() SandboxState {
	switch {
	case p.SandboxID == "":
		return StateUninitialized
	case p.SandboxPausedAt != nil:
		return StatePaused
	default:
		return StateRunning
	}
}

// Health statuses reported by the health monitor.
const (
	HealthHealthy = "healthy"
	HealthPaused  = "paused"
	HealthExpired = "expired"
	HealthError   = "error"
	HealthUnknown = "unknown"
)

// HealthResult is the structured outcome of a health check. Health
// checks are advisory: they always return a result, never panic past
// the monitor boundary.
type HealthResult struct {
	ProjectID        string       `json:"project_id"`
	SandboxID        string       `json:"sandbox_id,omitempty"`
	Healthy          bool         `json:"healthy"`
	Status           string       `json:"status"`
	State            SandboxState `json:"state,omitempty"`
	NeedsRestoration bool         `json:"needs_restoration"`
	CanRestore       bool         `json:"can_restore"`
	Restored         bool         `json:"restored,omitempty"`
	Message          string       `json:"message,omitempty"`
}

// Ready statuses for EnsureSandboxReady.
const (
	ReadyStatusReady    = "ready"
	ReadyStatusStarting = "starting"
	ReadyStatusError    = "error"
	ReadyStatusTimeout  = "timeout"
)

// ReadyResult is returned by EnsureSandboxReady. A not-yet-ready dev
// server is reported as "starting" with the URL still present so the
// caller can show a starting-up state instead of a hard error.
type ReadyResult struct {
	ProjectID   string `json:"project_id"`
	SandboxID   string `json:"sandbox_id,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
	Status      string `json:"status"`
	Restored    bool   `json:"restored,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Coarse statuses for GetSandboxStatus, derived from the record alone.
const (
	StatusInactive = "inactive"
	StatusRunning  = "running"
	StatusPaused   = "paused"
	StatusUnknown  = "unknown"
)

// ProjectFile is one path/content pair moved between the sandbox
// filesystem, the backup store and the restoration path.
type ProjectFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
