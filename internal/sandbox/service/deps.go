package service

import (
	"context"
	"time"

	"github.com/craftfast/sandbox-backend/internal/sandbox/backup"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/lock"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

// Handle is a live sandbox connection as the services see it.
// *provider.Sandbox is the production implementation.
type Handle interface {
	ID() string
	Host(port int) string
	RunCommand(ctx context.Context, cmd string, opts provider.CommandOptions) (*provider.CommandResult, error)
	WriteFile(ctx context.Context, path, content string) error
	WriteFiles(ctx context.Context, files []domain.ProjectFile) error
	ReadFile(ctx context.Context, path string) (string, error)
}

// ProviderAPI is the slice of the compute provider the lifecycle uses.
type ProviderAPI interface {
	Create(ctx context.Context, req provider.CreateRequest) (Handle, error)
	Connect(ctx context.Context, sandboxID string) (Handle, error)
	Pause(ctx context.Context, sandboxID string) error
	Kill(ctx context.Context, sandboxID string) error
}

// providerAdapter lifts *provider.Client to ProviderAPI (its concrete
// methods return *provider.Sandbox).
type providerAdapter struct {
	client *provider.Client
}

// NewProviderAPI wraps the concrete provider client.
func NewProviderAPI(client *provider.Client) ProviderAPI {
	return providerAdapter{client: client}
}

func (a providerAdapter) Create(ctx context.Context, req provider.CreateRequest) (Handle, error) {
	sb, err := a.client.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func (a providerAdapter) Connect(ctx context.Context, sandboxID string) (Handle, error) {
	sb, err := a.client.Connect(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func (a providerAdapter) Pause(ctx context.Context, sandboxID string) error {
	return a.client.Pause(ctx, sandboxID)
}

func (a providerAdapter) Kill(ctx context.Context, sandboxID string) error {
	return a.client.Kill(ctx, sandboxID)
}

// ProjectStore is the binding repository surface used by the services.
type ProjectStore interface {
	Get(ctx context.Context, projectID string) (*domain.ProjectSandbox, error)
	SetSandbox(ctx context.Context, projectID, sandboxID string) error
	ClearSandbox(ctx context.Context, projectID string) error
	SetPaused(ctx context.Context, projectID string, pausedAt time.Time) error
	ClearPaused(ctx context.Context, projectID string) error
	Touch(ctx context.Context, projectID string) error
}

// BackupSource reads snapshots back during restoration.
type BackupSource interface {
	HasBackup(ctx context.Context, projectID string) (bool, error)
	RestoreFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error)
}

// BackupMirror receives best-effort backup jobs for files already
// written to the sandbox.
type BackupMirror interface {
	Enqueue(job backup.Job) bool
}

// LockManager serializes lifecycle operations per project.
type LockManager interface {
	Acquire(ctx context.Context, projectID string, opts lock.Options) (lock.ReleaseFunc, error)
}

// RestorerAPI rebuilds an expired sandbox from backups.
type RestorerAPI interface {
	RestoreFromExpired(ctx context.Context, projectID, expiredSandboxID string) (Handle, error)
}

// EnvCipher decrypts stored project env vars just-in-time.
type EnvCipher interface {
	DecryptAll(encrypted map[string]string) (map[string]string, error)
}
