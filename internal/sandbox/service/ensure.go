package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/lock"
)

// EnsureSandboxReady is the top-level "open the preview" operation: it
// obtains a live sandbox (creating, reconnecting, or restoring as
// needed) and makes sure the dev server inside answers on its public
// URL. The whole sequence runs under one wall-clock budget; every
// sub-step checks it so a generous inner timeout can never silently
// exceed the caller's.
//
// Lock contention is returned as domain.ErrLockContention; every other
// outcome, including timeout and a still-starting server, is a
// structured result.
func (m *Manager) EnsureSandboxReady(ctx context.Context, projectID string) (*domain.ReadyResult, error) {
	logger := NewLogger(ctx)
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationBudget)
	defer cancel()

	result := &domain.ReadyResult{ProjectID: projectID}

	release, err := m.locks.Acquire(opCtx, projectID, lock.Options{TTL: m.cfg.LockTTL, Wait: m.cfg.LockWait})
	if err != nil {
		if errors.Is(err, domain.ErrLockContention) {
			return nil, err
		}
		if opCtx.Err() != nil {
			result.Status = domain.ReadyStatusTimeout
			result.Diagnostics = "timed out acquiring lifecycle lock"
			return result, nil
		}
		return nil, err
	}
	defer release()

	handle, restored, err := m.getOrCreateLocked(opCtx, projectID)
	if err != nil {
		if opCtx.Err() != nil && !errors.Is(err, domain.ErrRestorationExhausted) {
			result.Status = domain.ReadyStatusTimeout
			result.Diagnostics = fmt.Sprintf("budget exceeded during sandbox acquisition: %v", err)
			return result, nil
		}
		result.Status = domain.ReadyStatusError
		result.Diagnostics = err.Error()
		return result, nil
	}
	result.SandboxID = handle.ID()
	result.Restored = restored

	if opCtx.Err() != nil {
		result.Status = domain.ReadyStatusTimeout
		result.Diagnostics = "budget exceeded after sandbox acquisition"
		return result, nil
	}

	// Re-read the record: restoration may have rebound it, and the
	// prober needs the env var set.
	rec, err := m.store.Get(opCtx, projectID)
	if err != nil {
		result.Status = domain.ReadyStatusError
		result.Diagnostics = err.Error()
		return result, nil
	}

	devStatus, err := m.prober.EnsureDevServer(opCtx, handle, rec)
	if err != nil {
		if errors.Is(err, domain.ErrOperationTimeout) || opCtx.Err() != nil {
			result.Status = domain.ReadyStatusTimeout
			result.Diagnostics = err.Error()
			return result, nil
		}
		result.Status = domain.ReadyStatusError
		result.Diagnostics = err.Error()
		return result, nil
	}

	result.PreviewURL = devStatus.URL
	if devStatus.Ready {
		result.Status = domain.ReadyStatusReady
	} else {
		result.Status = domain.ReadyStatusStarting
		result.Diagnostics = devStatus.Message
	}

	if err := m.store.Touch(opCtx, projectID); err != nil {
		logger.LogError("touch_project", err)
	}

	logger.LogInfof("ensure_ready", "project_id=%s sandbox_id=%s status=%s restored=%t",
		projectID, result.SandboxID, result.Status, restored)
	return result, nil
}
