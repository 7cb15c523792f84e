package backup

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

// FileBackuper is the slice of the store the writer needs.
type FileBackuper interface {
	BackupFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error
}

// BackupRecorder records the last successful backup time on the binding.
type BackupRecorder interface {
	SetLastBackupAt(ctx context.Context, projectID string, t time.Time) error
}

// Job is one mirror write of files already committed to the sandbox.
type Job struct {
	ProjectID string
	Files     []domain.ProjectFile
}

// Writer mirrors sandbox file writes to the backup store off the
// request path. Backups are best-effort: a failure is logged and never
// surfaces to the primary write that triggered it, and a full queue
// drops the job rather than blocking the caller.
type Writer struct {
	store    FileBackuper
	recorder BackupRecorder
	limiter  *rate.Limiter
	jobs     chan Job

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	workers   int
}

func NewWriter(store FileBackuper, recorder BackupRecorder, cfg config.BackupConfig) *Writer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}

	return &Writer{
		store:    store,
		recorder: recorder,
		limiter:  rate.NewLimiter(rate.Limit(perSec), workers),
		jobs:     make(chan Job, queueSize),
		workers:  workers,
	}
}

// Start launches the worker pool.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go w.run()
		}
	})
}

// Enqueue hands a job to the pool without blocking. Returns false when
// the queue is full and the job was dropped.
func (w *Writer) Enqueue(job Job) bool {
	if len(job.Files) == 0 {
		return true
	}
	select {
	case w.jobs <- job:
		return true
	default:
		log.Printf("[warn] operation=backup_enqueue project_id=%s files=%d message=queue full, dropping",
			job.ProjectID, len(job.Files))
		return false
	}
}

// Close stops accepting jobs and drains the queue.
func (w *Writer) Close() {
	w.stopOnce.Do(func() {
		close(w.jobs)
	})
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		w.process(job)
	}
}

func (w *Writer) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.limiter.Wait(ctx); err != nil {
		log.Printf("[warn] operation=backup_write project_id=%s error=%v", job.ProjectID, err)
		return
	}

	if err := w.store.BackupFiles(ctx, job.ProjectID, job.Files); err != nil {
		log.Printf("[warn] operation=backup_write project_id=%s files=%d error=%v",
			job.ProjectID, len(job.Files), err)
		return
	}

	if w.recorder != nil {
		if err := w.recorder.SetLastBackupAt(ctx, job.ProjectID, time.Now().UTC()); err != nil {
			log.Printf("[warn] operation=backup_record project_id=%s error=%v", job.ProjectID, err)
		}
	}
}
