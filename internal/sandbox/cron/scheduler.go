package cronjob

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// BindingLister is the repository slice the sweeps read.
type BindingLister interface {
	ListIdleRunning(ctx context.Context, threshold time.Duration) ([]domain.ProjectSandbox, error)
	ListBound(ctx context.Context) ([]domain.ProjectSandbox, error)
}

// Pauser suspends a project's sandbox.
type Pauser interface {
	Pause(ctx context.Context, projectID string) error
}

// BatchHealthChecker runs the advisory health check over many projects.
type BatchHealthChecker interface {
	CheckHealthBatch(ctx context.Context, projectIDs []string, autoRestore bool) []domain.HealthResult
}

// Scheduler runs the periodic lifecycle sweeps: pausing idle sandboxes
// (they bill while running) and logging unhealthy ones. The health
// sweep never auto-restores; a sweep restoring everything at once would
// stampede the provider.
type Scheduler struct {
	repo          BindingLister
	pauser        Pauser
	health        BatchHealthChecker
	idleThreshold time.Duration
	cron          *cron.Cron
}

func NewScheduler(repo BindingLister, pauser Pauser, health BatchHealthChecker, idleThreshold time.Duration) *Scheduler {
	return &Scheduler{
		repo:          repo,
		pauser:        pauser,
		health:        health,
		idleThreshold: idleThreshold,
	}
}

// Start registers the sweeps and starts the cron loop.
func (s *Scheduler) Start() {
	c := cron.New(cron.WithSeconds())

	// Idle-pause sweep every 10 minutes.
	if _, err := c.AddFunc("0 */10 * * * *", s.runIdlePauseSweep); err != nil {
		log.Printf("Failed to create idle-pause cron job: %v", err)
		return
	}

	// Health sweep hourly.
	if _, err := c.AddFunc("0 0 * * * *", s.runHealthSweep); err != nil {
		log.Printf("Failed to create health sweep cron job: %v", err)
		return
	}

	log.Println("Sandbox sweep scheduler started (idle-pause every 10m, health sweep hourly)")
	c.Start()
	s.cron = c
}

// Stop halts the cron loop, waiting for running sweeps.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) runIdlePauseSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	idle, err := s.repo.ListIdleRunning(ctx, s.idleThreshold)
	if err != nil {
		log.Printf("[warn] operation=idle_pause_sweep error=%v", err)
		return
	}
	if len(idle) == 0 {
		return
	}

	log.Printf("[info] operation=idle_pause_sweep message=pausing %d idle sandboxes", len(idle))
	for _, rec := range idle {
		if err := s.pauser.Pause(ctx, rec.ProjectID); err != nil {
			// Contention means someone is actively using it; skip quietly.
			log.Printf("[warn] operation=idle_pause_sweep project_id=%s error=%v", rec.ProjectID, err)
		}
	}
}

func (s *Scheduler) runHealthSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	bound, err := s.repo.ListBound(ctx)
	if err != nil {
		log.Printf("[warn] operation=health_sweep error=%v", err)
		return
	}

	// Skip paused bindings: a health probe connects, and connecting
	// resumes a paused sandbox, which starts billing again.
	ids := make([]string, 0, len(bound))
	for _, rec := range bound {
		if rec.State() == domain.StatePaused {
			continue
		}
		ids = append(ids, rec.ProjectID)
	}

	results := s.health.CheckHealthBatch(ctx, ids, false)
	unhealthy := 0
	for _, res := range results {
		if !res.Healthy && res.Status != domain.HealthPaused {
			unhealthy++
			log.Printf("[warn] operation=health_sweep project_id=%s status=%s message=%s",
				res.ProjectID, res.Status, res.Message)
		}
	}
	log.Printf("[info] operation=health_sweep checked=%d unhealthy=%d", len(ids), unhealthy)
}
