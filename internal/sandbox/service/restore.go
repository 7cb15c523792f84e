package service

import (
	"context"
	"fmt"
	"time"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

// Restorer rebuilds a brand-new sandbox after the provider has
// confirmed the old one is permanently gone. Recovery sources in order:
// the backup store's snapshot set, then the record's coarse code-file
// blob. Both empty is real data loss and surfaces as
// domain.ErrRestorationExhausted without creating anything remote.
type Restorer struct {
	provider ProviderAPI
	store    ProjectStore
	backups  BackupSource
	template string
}

func NewRestorer(providerAPI ProviderAPI, store ProjectStore, backups BackupSource, template string) *Restorer {
	return &Restorer{
		provider: providerAPI,
		store:    store,
		backups:  backups,
		template: template,
	}
}

// RestoreFromExpired rebuilds the project's sandbox and rebinds it.
// Any failure after the source check aborts the whole restoration: the
// binding is never updated to a sandbox that does not hold the files.
func (r *Restorer) RestoreFromExpired(ctx context.Context, projectID, expiredSandboxID string) (Handle, error) {
	logger := NewLogger(ctx)

	rec, err := r.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	files, source, err := r.pickSource(ctx, projectID, rec)
	if err != nil {
		return nil, err
	}

	logger.LogInfof("restore", "project_id=%s expired=%s source=%s files=%d",
		projectID, expiredSandboxID, source, len(files))

	handle, err := r.provider.Create(ctx, provider.CreateRequest{
		Template: r.template,
		Metadata: map[string]string{
			"project_id":    projectID,
			"restored_from": expiredSandboxID,
			"restored_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create replacement sandbox: %w", domain.ErrRestoreFailed, err)
	}

	if err := handle.WriteFiles(ctx, files); err != nil {
		r.cleanup(handle.ID())
		return nil, fmt.Errorf("%w: write restored files: %w", domain.ErrRestoreFailed, err)
	}

	if err := r.store.SetSandbox(ctx, projectID, handle.ID()); err != nil {
		r.cleanup(handle.ID())
		return nil, fmt.Errorf("%w: rebind project %s: %w", domain.ErrRestoreFailed, projectID, err)
	}

	logger.LogInfof("restore", "project_id=%s restored sandbox_id=%s", projectID, handle.ID())
	return handle, nil
}

// pickSource chooses the recovery source: backup store first, code-file
// blob second. Returns ErrRestorationExhausted when both are empty.
func (r *Restorer) pickSource(ctx context.Context, projectID string, rec *domain.ProjectSandbox) ([]domain.ProjectFile, string, error) {
	has, err := r.backups.HasBackup(ctx, projectID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: check backup store: %w", domain.ErrRestoreFailed, err)
	}

	if has {
		files, err := r.backups.RestoreFiles(ctx, projectID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read backup snapshot: %w", domain.ErrRestoreFailed, err)
		}
		if len(files) > 0 {
			return files, "backup_store", nil
		}
	}

	if len(rec.CodeFiles) > 0 {
		files := make([]domain.ProjectFile, 0, len(rec.CodeFiles))
		for path, content := range rec.CodeFiles {
			files = append(files, domain.ProjectFile{Path: path, Content: content})
		}
		return files, "code_blob", nil
	}

	return nil, "", fmt.Errorf("project %s: %w", projectID, domain.ErrRestorationExhausted)
}

// cleanup best-effort kills a freshly created sandbox that never got
// bound. Uses its own context: the caller's may already be dead.
func (r *Restorer) cleanup(sandboxID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.provider.Kill(ctx, sandboxID); err != nil {
		NewLogger(ctx).LogError("restore_cleanup", err)
	}
}
