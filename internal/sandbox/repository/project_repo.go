package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectRepo persists the project-sandbox binding. The sandbox manager
// is the only writer of sandbox_id and sandbox_paused_at; the
// restoration service goes through it.
type ProjectRepo struct {
	db *pgxpool.Pool
}

func NewProjectRepo(db *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{db: db}
}

const selectColumns = `
project_id, sandbox_id, sandbox_paused_at, last_backup_at, last_active_at,
code_files, env_vars, created_at, updated_at`

// Get loads a project's binding.
func (r *ProjectRepo) Get(ctx context.Context, projectID string) (*domain.ProjectSandbox, error) {
	q := `select ` + selectColumns + ` from project_sandboxes where project_id = $1;`

	row := r.db.QueryRow(ctx, q, projectID)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrProjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return p, nil
}

// SetSandbox binds a new sandbox ID and clears the pause marker. Called
// only after the remote create/connect has confirmed success, and only
// under the project's lifecycle lock.
func (r *ProjectRepo) SetSandbox(ctx context.Context, projectID, sandboxID string) error {
	const q = `
update project_sandboxes
set sandbox_id = $2, sandbox_paused_at = null, last_active_at = now(), updated_at = now()
where project_id = $1;
`
	tag, err := r.db.Exec(ctx, q, projectID, sandboxID)
	if err != nil {
		return fmt.Errorf("set sandbox for project %s: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, domain.ErrProjectNotFound)
	}
	return nil
}

// ClearSandbox drops the binding entirely. Used when a project is
// decommissioned and its sandbox explicitly killed.
func (r *ProjectRepo) ClearSandbox(ctx context.Context, projectID string) error {
	const q = `
update project_sandboxes
set sandbox_id = null, sandbox_paused_at = null, updated_at = now()
where project_id = $1;
`
	if _, err := r.db.Exec(ctx, q, projectID); err != nil {
		return fmt.Errorf("clear sandbox for project %s: %w", projectID, err)
	}
	return nil
}

// SetPaused records the pause timestamp.
func (r *ProjectRepo) SetPaused(ctx context.Context, projectID string, pausedAt time.Time) error {
	const q = `
update project_sandboxes
set sandbox_paused_at = $2, updated_at = now()
where project_id = $1;
`
	if _, err := r.db.Exec(ctx, q, projectID, pausedAt); err != nil {
		return fmt.Errorf("set paused for project %s: %w", projectID, err)
	}
	return nil
}

// ClearPaused marks the sandbox as believed running.
func (r *ProjectRepo) ClearPaused(ctx context.Context, projectID string) error {
	const q = `
update project_sandboxes
set sandbox_paused_at = null, last_active_at = now(), updated_at = now()
where project_id = $1;
`
	if _, err := r.db.Exec(ctx, q, projectID); err != nil {
		return fmt.Errorf("clear paused for project %s: %w", projectID, err)
	}
	return nil
}

// SetLastBackupAt records a successful backup-store write.
func (r *ProjectRepo) SetLastBackupAt(ctx context.Context, projectID string, t time.Time) error {
	const q = `
update project_sandboxes
set last_backup_at = $2, updated_at = now()
where project_id = $1;
`
	if _, err := r.db.Exec(ctx, q, projectID, t); err != nil {
		return fmt.Errorf("set last backup for project %s: %w", projectID, err)
	}
	return nil
}

// Touch bumps last_active_at; the idle-pause sweep keys off it.
func (r *ProjectRepo) Touch(ctx context.Context, projectID string) error {
	const q = `
update project_sandboxes
set last_active_at = now(), updated_at = now()
where project_id = $1;
`
	if _, err := r.db.Exec(ctx, q, projectID); err != nil {
		return fmt.Errorf("touch project %s: %w", projectID, err)
	}
	return nil
}

// ListIdleRunning returns bindings believed running whose last activity
// is older than the threshold. Input to the idle-pause sweep.
func (r *ProjectRepo) ListIdleRunning(ctx context.Context, threshold time.Duration) ([]domain.ProjectSandbox, error) {
	q := `
select ` + selectColumns + `
from project_sandboxes
where sandbox_id is not null
  and sandbox_paused_at is null
  and last_active_at < now() - $1::interval
order by last_active_at asc;
`
	rows, err := r.db.Query(ctx, q, threshold.String())
	if err != nil {
		return nil, fmt.Errorf("list idle running: %w", err)
	}
	defer rows.Close()

	return scanProjects(rows)
}

// ListBound returns every binding with a sandbox ID, for the batch
// health sweep.
func (r *ProjectRepo) ListBound(ctx context.Context) ([]domain.ProjectSandbox, error) {
	q := `
select ` + selectColumns + `
from project_sandboxes
where sandbox_id is not null
order by updated_at desc;
`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bound: %w", err)
	}
	defer rows.Close()

	return scanProjects(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.ProjectSandbox, error) {
	var (
		p         domain.ProjectSandbox
		sandboxID *string
		codeFiles []byte
		envVars   []byte
	)
	err := row.Scan(
		&p.ProjectID, &sandboxID, &p.SandboxPausedAt, &p.LastBackupAt, &p.LastActiveAt,
		&codeFiles, &envVars, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sandboxID != nil {
		p.SandboxID = *sandboxID
	}
	if len(codeFiles) > 0 {
		if err := json.Unmarshal(codeFiles, &p.CodeFiles); err != nil {
			return nil, fmt.Errorf("unmarshal code_files: %w", err)
		}
	}
	if len(envVars) > 0 {
		if err := json.Unmarshal(envVars, &p.EnvVars); err != nil {
			return nil, fmt.Errorf("unmarshal env_vars: %w", err)
		}
	}
	return &p, nil
}

func scanProjects(rows pgx.Rows) ([]domain.ProjectSandbox, error) {
	out := make([]domain.ProjectSandbox, 0, 16)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
