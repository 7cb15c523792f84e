package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

const batchHealthConcurrency = 8

// HealthMonitor classifies a project's sandbox before callers act on
// it, and optionally repairs an expired one in place. Health checks are
// advisory: the monitor always returns a structured result and never
// lets an error or panic escape to request handling.
type HealthMonitor struct {
	provider ProviderAPI
	store    ProjectStore
	backups  BackupSource
	restorer RestorerAPI
}

// NewHealthMonitor wires the monitor. restorer must be a lock-holding
// implementation (the Manager); the binding is only mutated under the
// project's lifecycle lock, and the monitor itself never acquires it.
func NewHealthMonitor(providerAPI ProviderAPI, store ProjectStore, backups BackupSource, restorer RestorerAPI) *HealthMonitor {
	return &HealthMonitor{
		provider: providerAPI,
		store:    store,
		backups:  backups,
		restorer: restorer,
	}
}

// CheckHealth probes one project. With autoRestore, a provider-confirmed
// expired sandbox is rebuilt and the result reports the replacement.
func (h *HealthMonitor) CheckHealth(ctx context.Context, projectID string, autoRestore bool) (result domain.HealthResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.HealthResult{
				ProjectID: projectID,
				Status:    domain.HealthError,
				Message:   fmt.Sprintf("health check panicked: %v", r),
			}
		}
	}()

	result = domain.HealthResult{ProjectID: projectID, Status: domain.HealthUnknown}

	rec, err := h.store.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			result.Message = "no project record"
			return result
		}
		result.Status = domain.HealthError
		result.Message = err.Error()
		return result
	}

	if rec.SandboxID == "" {
		result.State = domain.StateUninitialized
		result.CanRestore = h.canRestore(ctx, projectID, rec)
		result.Message = "no sandbox bound"
		return result
	}
	result.SandboxID = rec.SandboxID
	result.State = rec.State()

	handle, err := h.provider.Connect(ctx, rec.SandboxID)
	if err == nil {
		err = h.probe(ctx, handle)
	}

	switch {
	case err == nil:
		result.Healthy = true
		result.Status = domain.HealthHealthy
		if rec.State() == domain.StatePaused {
			result.Status = domain.HealthPaused
		}
		return result

	case errors.Is(err, domain.ErrSandboxNotFound):
		result.Status = domain.HealthExpired
		result.State = domain.StateExpired
		result.NeedsRestoration = true
		result.CanRestore = h.canRestore(ctx, projectID, rec)

		if !autoRestore || !result.CanRestore {
			result.Message = fmt.Sprintf("sandbox %s is gone", rec.SandboxID)
			return result
		}

		restored, rerr := h.restorer.RestoreFromExpired(ctx, projectID, rec.SandboxID)
		if rerr != nil {
			result.Message = fmt.Sprintf("restoration failed: %v", rerr)
			return result
		}
		result.Healthy = true
		result.Status = domain.HealthHealthy
		result.State = domain.StateRunning
		result.NeedsRestoration = false
		result.Restored = true
		result.SandboxID = restored.ID()
		return result

	default:
		// Transient: network, timeout, failed probe. Not a restoration
		// trigger; the reconnect path retries these.
		result.Status = domain.HealthError
		result.Message = err.Error()
		return result
	}
}

// CheckHealthBatch fans out over many projects with bounded
// concurrency. autoRestore is the caller's choice but batch callers
// should leave it off: a sweep restoring everything at once is a
// thundering herd against the provider.
func (h *HealthMonitor) CheckHealthBatch(ctx context.Context, projectIDs []string, autoRestore bool) []domain.HealthResult {
	results := make([]domain.HealthResult, len(projectIDs))
	sem := make(chan struct{}, batchHealthConcurrency)

	var wg sync.WaitGroup
	for i, id := range projectIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = h.CheckHealth(ctx, id, autoRestore)
		}(i, id)
	}
	wg.Wait()

	return results
}

func (h *HealthMonitor) probe(ctx context.Context, handle Handle) error {
	result, err := handle.RunCommand(ctx, "true", provider.CommandOptions{Timeout: livenessProbeTimeout})
	if err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("liveness probe exited %d", result.ExitCode)
	}
	return nil
}

func (h *HealthMonitor) canRestore(ctx context.Context, projectID string, rec *domain.ProjectSandbox) bool {
	if len(rec.CodeFiles) > 0 {
		return true
	}
	has, err := h.backups.HasBackup(ctx, projectID)
	if err != nil {
		return false
	}
	return has
}
