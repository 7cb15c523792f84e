package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/craftfast/sandbox-backend/internal/sandbox/backup"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/lock"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

// fakeHandle is an in-memory sandbox: files are a map, commands are
// scripted per command string.
type fakeHandle struct {
	mu       sync.Mutex
	id       string
	domain   string
	files    map[string]string
	commands []string

	// cmdResults maps a command substring to its scripted result.
	cmdResults map[string]fakeCmdResult

	writeFilesErr error
	writeFileErr  error
}

type fakeCmdResult struct {
	exitCode int
	stdout   string
	err      error
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{
		id:         id,
		domain:     "sandbox.test",
		files:      map[string]string{},
		cmdResults: map[string]fakeCmdResult{},
	}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Host(port int) string {
	return fmt.Sprintf("%d-%s.%s", port, h.id, h.domain)
}

func (h *fakeHandle) RunCommand(ctx context.Context, cmd string, opts provider.CommandOptions) (*provider.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)

	for substr, res := range h.cmdResults {
		if containsSubstr(cmd, substr) {
			if res.err != nil {
				return nil, res.err
			}
			return &provider.CommandResult{ExitCode: res.exitCode, Stdout: res.stdout}, nil
		}
	}
	return &provider.CommandResult{ExitCode: 0}, nil
}

func (h *fakeHandle) WriteFile(ctx context.Context, path, content string) error {
	if h.writeFileErr != nil {
		return h.writeFileErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
	return nil
}

func (h *fakeHandle) WriteFiles(ctx context.Context, files []domain.ProjectFile) error {
	if h.writeFilesErr != nil {
		return h.writeFilesErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range files {
		h.files[f.Path] = f.Content
	}
	return nil
}

func (h *fakeHandle) ReadFile(ctx context.Context, path string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", path)
	}
	return content, nil
}

func (h *fakeHandle) ranCommand(substr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, cmd := range h.commands {
		if containsSubstr(cmd, substr) {
			n++
		}
	}
	return n
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// fakeProvider scripts the provider API and counts calls.
type fakeProvider struct {
	mu sync.Mutex

	createCalls  int
	connectCalls int
	pauseCalls   int
	killCalls    int
	killedIDs    []string

	createHandle *fakeHandle
	createErr    error

	// connectResults is consumed in order; the last entry repeats.
	connectResults []fakeConnect

	// connectByID, when set for a sandbox ID, takes precedence over
	// connectResults for that ID.
	connectByID map[string]fakeConnect

	pauseErr error
	killErr  error
}

type fakeConnect struct {
	handle *fakeHandle
	err    error
}

func (p *fakeProvider) Create(ctx context.Context, req provider.CreateRequest) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	if p.createHandle == nil {
		p.createHandle = newFakeHandle(fmt.Sprintf("sb-created-%d", p.createCalls))
	}
	return p.createHandle, nil
}

func (p *fakeProvider) Connect(ctx context.Context, sandboxID string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCalls++
	if res, ok := p.connectByID[sandboxID]; ok {
		if res.err != nil {
			return nil, res.err
		}
		return res.handle, nil
	}
	if len(p.connectResults) == 0 {
		return newFakeHandle(sandboxID), nil
	}
	idx := p.connectCalls - 1
	if idx >= len(p.connectResults) {
		idx = len(p.connectResults) - 1
	}
	res := p.connectResults[idx]
	if res.err != nil {
		return nil, res.err
	}
	return res.handle, nil
}

func (p *fakeProvider) Pause(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseCalls++
	return p.pauseErr
}

func (p *fakeProvider) Kill(ctx context.Context, sandboxID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killCalls++
	p.killedIDs = append(p.killedIDs, sandboxID)
	return p.killErr
}

// fakeStore is an in-memory ProjectStore.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.ProjectSandbox

	setSandboxErr error
	touched       int
}

func newFakeStore(recs ...*domain.ProjectSandbox) *fakeStore {
	s := &fakeStore{records: map[string]*domain.ProjectSandbox{}}
	for _, r := range recs {
		s.records[r.ProjectID] = r
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, projectID string) (*domain.ProjectSandbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrProjectNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) SetSandbox(ctx context.Context, projectID, sandboxID string) error {
	if s.setSandboxErr != nil {
		return s.setSandboxErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	rec.SandboxID = sandboxID
	rec.SandboxPausedAt = nil
	return nil
}

func (s *fakeStore) ClearSandbox(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	rec.SandboxID = ""
	rec.SandboxPausedAt = nil
	return nil
}

func (s *fakeStore) SetPaused(ctx context.Context, projectID string, pausedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	rec.SandboxPausedAt = &pausedAt
	return nil
}

func (s *fakeStore) ClearPaused(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[projectID]
	if !ok {
		return domain.ErrProjectNotFound
	}
	rec.SandboxPausedAt = nil
	return nil
}

func (s *fakeStore) Touch(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	return nil
}

func (s *fakeStore) record(projectID string) *domain.ProjectSandbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[projectID]
}

// fakeBackups scripts the backup store.
type fakeBackups struct {
	has       bool
	hasErr    error
	files     []domain.ProjectFile
	filesErr  error
	hasCalls  int
	listCalls int
}

func (b *fakeBackups) HasBackup(ctx context.Context, projectID string) (bool, error) {
	b.hasCalls++
	return b.has, b.hasErr
}

func (b *fakeBackups) RestoreFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error) {
	b.listCalls++
	if b.filesErr != nil {
		return nil, b.filesErr
	}
	return b.files, nil
}

// fakeLocker hands out real mutual exclusion in-process.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int

	acquireErr error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Acquire(ctx context.Context, projectID string, opts lock.Options) (lock.ReleaseFunc, error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	deadline := time.Now().Add(opts.Wait)
	for {
		l.mu.Lock()
		if !l.held[projectID] {
			l.held[projectID] = true
			l.acquired++
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					l.held[projectID] = false
					l.released++
					l.mu.Unlock()
				})
			}, nil
		}
		l.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock for project %s: %w", projectID, domain.ErrLockContention)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// fakeMirror records enqueued backup jobs.
type fakeMirror struct {
	mu   sync.Mutex
	jobs []backup.Job
	full bool
}

func (m *fakeMirror) Enqueue(job backup.Job) bool {
	if m.full {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return true
}

// fakeRestorer scripts restoration outcomes.
type fakeRestorer struct {
	mu     sync.Mutex
	calls  int
	handle *fakeHandle
	err    error

	// onRestore, when set, mutates the store the way the real restorer
	// rebinds the project.
	onRestore func(projectID string)
}

func (r *fakeRestorer) RestoreFromExpired(ctx context.Context, projectID, expiredSandboxID string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.onRestore != nil {
		r.onRestore(projectID)
	}
	return r.handle, nil
}

// plainCipher is an EnvCipher that passes values through untouched.
type plainCipher struct{}

func (plainCipher) DecryptAll(encrypted map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(encrypted))
	for k, v := range encrypted {
		out[k] = v
	}
	return out, nil
}

func notFoundErr(sandboxID string) error {
	return fmt.Errorf("sandbox %s: %w", sandboxID, domain.ErrSandboxNotFound)
}
