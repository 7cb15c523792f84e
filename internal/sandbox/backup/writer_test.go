package backup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

type memBackuper struct {
	mu      sync.Mutex
	calls   int
	byProj  map[string][]domain.ProjectFile
	failFor map[string]error
}

func newMemBackuper() *memBackuper {
	return &memBackuper{byProj: map[string][]domain.ProjectFile{}, failFor: map[string]error{}}
}

func (b *memBackuper) BackupFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if err := b.failFor[projectID]; err != nil {
		return err
	}
	b.byProj[projectID] = append(b.byProj[projectID], files...)
	return nil
}

func (b *memBackuper) stored(projectID string) []domain.ProjectFile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byProj[projectID]
}

type memRecorder struct {
	mu       sync.Mutex
	recorded map[string]time.Time
}

func newMemRecorder() *memRecorder {
	return &memRecorder{recorded: map[string]time.Time{}}
}

func (r *memRecorder) SetLastBackupAt(ctx context.Context, projectID string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded[projectID] = t
	return nil
}

func (r *memRecorder) has(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.recorded[projectID]
	return ok
}

func testBackupConfig() config.BackupConfig {
	return config.BackupConfig{Workers: 2, QueueSize: 16, RatePerSec: 1000}
}

func TestWriterProcessesEnqueuedJobs(t *testing.T) {
	store := newMemBackuper()
	recorder := newMemRecorder()
	w := NewWriter(store, recorder, testBackupConfig())
	w.Start()

	ok := w.Enqueue(Job{ProjectID: "p1", Files: []domain.ProjectFile{{Path: "a.ts", Content: "x"}}})
	require.True(t, ok)
	w.Close()

	require.Len(t, store.stored("p1"), 1)
	assert.Equal(t, "a.ts", store.stored("p1")[0].Path)
	assert.True(t, recorder.has("p1"), "a successful backup records its timestamp")
}

func TestWriterEmptyJobIsIgnored(t *testing.T) {
	store := newMemBackuper()
	w := NewWriter(store, newMemRecorder(), testBackupConfig())
	w.Start()

	assert.True(t, w.Enqueue(Job{ProjectID: "p1"}))
	w.Close()
	assert.Equal(t, 0, store.calls)
}

func TestWriterFailureDoesNotRecordTimestamp(t *testing.T) {
	store := newMemBackuper()
	store.failFor["p1"] = errors.New("s3 unreachable")
	recorder := newMemRecorder()
	w := NewWriter(store, recorder, testBackupConfig())
	w.Start()

	require.True(t, w.Enqueue(Job{ProjectID: "p1", Files: []domain.ProjectFile{{Path: "a.ts", Content: "x"}}}))
	w.Close()

	assert.False(t, recorder.has("p1"))
}

func TestWriterFullQueueDropsInsteadOfBlocking(t *testing.T) {
	store := newMemBackuper()
	cfg := config.BackupConfig{Workers: 1, QueueSize: 2, RatePerSec: 1000}
	// Not started: the queue fills and stays full.
	w := NewWriter(store, newMemRecorder(), cfg)

	files := []domain.ProjectFile{{Path: "a.ts", Content: "x"}}
	assert.True(t, w.Enqueue(Job{ProjectID: "p1", Files: files}))
	assert.True(t, w.Enqueue(Job{ProjectID: "p2", Files: files}))

	done := make(chan bool, 1)
	go func() {
		done <- w.Enqueue(Job{ProjectID: "p3", Files: files})
	}()
	select {
	case accepted := <-done:
		assert.False(t, accepted, "a full queue must drop, not block")
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}

func TestWriterCloseDrainsQueue(t *testing.T) {
	store := newMemBackuper()
	w := NewWriter(store, newMemRecorder(), testBackupConfig())
	w.Start()

	files := []domain.ProjectFile{{Path: "a.ts", Content: "x"}}
	for i := 0; i < 10; i++ {
		require.True(t, w.Enqueue(Job{ProjectID: "p1", Files: files}))
	}
	w.Close()

	assert.Equal(t, 10, store.calls)
}
