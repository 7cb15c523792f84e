package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/backup"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/lock"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

const livenessProbeTimeout = 10 * time.Second

// Manager owns the sandbox lifecycle protocol: one sandbox per project,
// lock-guarded create/reconnect/pause, restoration on provider-confirmed
// loss. Normal operation never deletes a project's sandbox.
type Manager struct {
	provider ProviderAPI
	store    ProjectStore
	locks    LockManager
	mirror   BackupMirror
	restorer RestorerAPI
	prober   *Prober
	cache    *statusCache
	cfg      config.SandboxConfig
	template string
}

func NewManager(
	providerAPI ProviderAPI,
	store ProjectStore,
	locks LockManager,
	mirror BackupMirror,
	restorer RestorerAPI,
	prober *Prober,
	cache *statusCache,
	cfg config.SandboxConfig,
	template string,
) *Manager {
	return &Manager{
		provider: providerAPI,
		store:    store,
		locks:    locks,
		mirror:   mirror,
		restorer: restorer,
		prober:   prober,
		cache:    cache,
		cfg:      cfg,
		template: template,
	}
}

// GetOrCreateSandbox returns a live handle for the project's sandbox,
// creating one only when the project never had one, reconnecting (with
// auto-resume) when it did, and restoring from backup when the provider
// confirms the old one is gone.
func (m *Manager) GetOrCreateSandbox(ctx context.Context, projectID string) (Handle, error) {
	release, err := m.locks.Acquire(ctx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		return nil, err
	}
	defer release()

	handle, _, err := m.getOrCreateLocked(ctx, projectID)
	return handle, err
}

// getOrCreateLocked is the body of GetOrCreateSandbox; the caller must
// hold the project's lifecycle lock.
func (m *Manager) getOrCreateLocked(ctx context.Context, projectID string) (Handle, bool, error) {
	logger := NewLogger(ctx)

	rec, err := m.store.Get(ctx, projectID)
	if err != nil {
		return nil, false, err
	}

	if rec.SandboxID == "" {
		handle, err := m.createSandbox(ctx, projectID)
		if err != nil {
			return nil, false, err
		}
		return handle, false, nil
	}

	handle, err := m.reconnect(ctx, projectID, rec.SandboxID)
	if errors.Is(err, domain.ErrSandboxNotFound) {
		logger.LogInfof("get_or_create_sandbox", "sandbox %s gone, restoring project %s", rec.SandboxID, projectID)
		restored, rerr := m.restorer.RestoreFromExpired(ctx, projectID, rec.SandboxID)
		if rerr != nil {
			return nil, false, rerr
		}
		m.invalidateStatus(ctx, projectID)
		return restored, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	// Reconnect may have auto-resumed a paused sandbox; the binding must
	// say "running" again either way.
	if rec.SandboxPausedAt != nil {
		if err := m.store.ClearPaused(ctx, projectID); err != nil {
			logger.LogError("clear_paused", err)
		}
		m.invalidateStatus(ctx, projectID)
	}

	return handle, false, nil
}

// createSandbox is the only path that mints a sandbox ID for a project
// that never had one. The binding is written only after the remote
// create confirms success.
func (m *Manager) createSandbox(ctx context.Context, projectID string) (Handle, error) {
	logger := NewLogger(ctx)

	handle, err := m.provider.Create(ctx, provider.CreateRequest{
		Template: m.template,
		Metadata: map[string]string{"project_id": projectID},
	})
	if err != nil {
		return nil, fmt.Errorf("create sandbox for project %s: %w", projectID, err)
	}

	if err := m.store.SetSandbox(ctx, projectID, handle.ID()); err != nil {
		// The remote sandbox exists but is unbound; kill it rather than
		// leak it, since nothing will ever reference it again.
		if kerr := m.provider.Kill(ctx, handle.ID()); kerr != nil {
			logger.LogError("create_sandbox_cleanup", kerr)
		}
		return nil, err
	}

	logger.LogInfof("create_sandbox", "project_id=%s sandbox_id=%s", projectID, handle.ID())
	m.invalidateStatus(ctx, projectID)
	return handle, nil
}

// reconnect attempts to attach to an existing sandbox with bounded
// exponential backoff. A provider-confirmed not-found short-circuits
// immediately: retrying a provably gone resource cannot succeed.
func (m *Manager) reconnect(ctx context.Context, projectID, sandboxID string) (Handle, error) {
	logger := NewLogger(ctx)

	attempts := m.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := m.cfg.BackoffBase

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		handle, err := m.provider.Connect(ctx, sandboxID)
		if err == nil {
			// The provider can report connectivity for a dead sandbox;
			// trust only a command that actually ran.
			if perr := m.probeLiveness(ctx, handle); perr == nil {
				return handle, nil
			} else {
				err = perr
			}
		}

		if errors.Is(err, domain.ErrSandboxNotFound) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		logger.LogWarnf("reconnect", "attempt %d/%d for sandbox %s failed: %v (retrying in %s)",
			attempt, attempts, sandboxID, err, delay)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("reconnect sandbox %s: %w", sandboxID, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > m.cfg.BackoffCap {
			delay = m.cfg.BackoffCap
		}
	}

	return nil, fmt.Errorf("reconnect sandbox %s after %d attempts: %w", sandboxID, attempts, lastErr)
}

func (m *Manager) probeLiveness(ctx context.Context, handle Handle) error {
	result, err := handle.RunCommand(ctx, "true", provider.CommandOptions{Timeout: livenessProbeTimeout})
	if err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("liveness probe exited %d", result.ExitCode)
	}
	return nil
}

// Pause suspends the project's sandbox and records the pause timestamp.
// Pausing an already-paused sandbox is a no-op success.
func (m *Manager) Pause(ctx context.Context, projectID string) error {
	release, err := m.locks.Acquire(ctx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		return err
	}
	defer release()

	rec, err := m.store.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if rec.SandboxID == "" {
		return fmt.Errorf("pause project %s: %w", projectID, domain.ErrNoBinding)
	}

	if err := m.provider.Pause(ctx, rec.SandboxID); err != nil {
		return err
	}
	if err := m.store.SetPaused(ctx, projectID, time.Now().UTC()); err != nil {
		return err
	}
	m.invalidateStatus(ctx, projectID)
	return nil
}

// Decommission kills the project's sandbox and drops the binding. This
// is the only operation that deletes a sandbox deliberately; nothing on
// the reconnect/create path calls it.
func (m *Manager) Decommission(ctx context.Context, projectID string) error {
	release, err := m.locks.Acquire(ctx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		return err
	}
	defer release()

	rec, err := m.store.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if rec.SandboxID == "" {
		return nil
	}

	if err := m.provider.Kill(ctx, rec.SandboxID); err != nil {
		return err
	}
	if err := m.store.ClearSandbox(ctx, projectID); err != nil {
		return err
	}
	m.invalidateStatus(ctx, projectID)
	return nil
}

// RestoreFromExpired rebuilds an expired sandbox under the project's
// lifecycle lock. The sandbox binding is only ever mutated under that
// lock, so callers outside the manager (the auto-restoring health
// check) go through here rather than the bare restorer; two concurrent
// restores otherwise each create a billable sandbox and double-write
// the binding. If the binding changed while waiting for the lock,
// someone else already restored; reconnect to their sandbox instead of
// creating another.
func (m *Manager) RestoreFromExpired(ctx context.Context, projectID, expiredSandboxID string) (Handle, error) {
	release, err := m.locks.Acquire(ctx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := m.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if rec.SandboxID == "" {
		// Decommissioned while we waited; nothing to restore.
		return nil, fmt.Errorf("restore project %s: %w", projectID, domain.ErrNoBinding)
	}
	if rec.SandboxID != expiredSandboxID {
		return m.reconnect(ctx, projectID, rec.SandboxID)
	}

	handle, err := m.restorer.RestoreFromExpired(ctx, projectID, expiredSandboxID)
	if err != nil {
		return nil, err
	}
	m.invalidateStatus(ctx, projectID)
	return handle, nil
}

// WriteProjectFiles writes files into the project's live sandbox and
// mirrors them to the backup store. The mirror is best-effort: its
// failure or a full queue never fails the primary write.
func (m *Manager) WriteProjectFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error {
	if len(files) == 0 {
		return nil
	}

	release, err := m.locks.Acquire(ctx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		return err
	}
	defer release()

	handle, _, err := m.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return err
	}

	if err := handle.WriteFiles(ctx, files); err != nil {
		return err
	}

	if m.mirror != nil {
		m.mirror.Enqueue(backup.Job{ProjectID: projectID, Files: files})
	}
	return nil
}

// GetStatus classifies the binding without touching the provider: a
// live probe on every status poll would resume paused sandboxes. The
// answer is cached briefly in Redis.
func (m *Manager) GetStatus(ctx context.Context, projectID string) string {
	if m.cache != nil {
		if status, ok := m.cache.get(ctx, projectID); ok {
			return status
		}
	}

	rec, err := m.store.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			return domain.StatusInactive
		}
		return domain.StatusUnknown
	}

	var status string
	switch rec.State() {
	case domain.StateUninitialized:
		status = domain.StatusInactive
	case domain.StatePaused:
		status = domain.StatusPaused
	default:
		status = domain.StatusRunning
	}

	if m.cache != nil {
		m.cache.set(ctx, projectID, status)
	}
	return status
}

func (m *Manager) invalidateStatus(ctx context.Context, projectID string) {
	if m.cache != nil {
		m.cache.invalidate(ctx, projectID)
	}
}
