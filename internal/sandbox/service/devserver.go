package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
	"github.com/craftfast/sandbox-backend/internal/sandbox/provider"
)

const (
	// envHashPath stores the hash of the env var set the dev server was
	// last started with. It lives in the sandbox so it survives
	// pause/resume with the process it describes.
	envHashPath = "/tmp/.craftfast-env-hash"

	devServerCmd     = "npm run dev"
	devServerPattern = "next dev"

	internalProbeTimeout = 8 * time.Second
	processQueryTimeout  = 8 * time.Second

	// Consecutive external probe successes required before declaring
	// ready. After a restart two are required so a server that crashes
	// right after its first response does not flap straight back to
	// "ready".
	freshStartSuccesses = 1
	postRestartSuccesses = 2
)

// DevServerStatus reports the state of the hosted dev server after an
// ensure pass. Ready=false with a URL means "still starting", not an
// error.
type DevServerStatus struct {
	URL       string `json:"url"`
	Ready     bool   `json:"ready"`
	Restarted bool   `json:"restarted"`
	Message   string `json:"message,omitempty"`
}

// Prober ensures the dev server inside a live sandbox is running,
// listening, and reachable through the provider's edge, restarting it
// when it is a zombie, unreachable after a resume, or running with a
// stale environment.
type Prober struct {
	cipher EnvCipher
	cfg    config.SandboxConfig

	// probeExternal is swappable in tests.
	probeExternal func(ctx context.Context, url string) bool
	httpClient    *http.Client
}

func NewProber(cipher EnvCipher, cfg config.SandboxConfig) *Prober {
	p := &Prober{
		cipher: cipher,
		cfg:    cfg,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	p.probeExternal = p.probeExternalURL
	return p
}

// EnsureDevServer runs the readiness protocol against a live handle.
// It returns domain.ErrOperationTimeout only when the caller's own
// context deadline expires; exhausting the readiness window returns a
// degraded Ready=false status instead.
func (p *Prober) EnsureDevServer(ctx context.Context, handle Handle, rec *domain.ProjectSandbox) (*DevServerStatus, error) {
	logger := NewLogger(ctx)
	url := fmt.Sprintf("https://%s", handle.Host(p.cfg.DevServerPort))
	status := &DevServerStatus{URL: url}

	env, err := p.materializeEnv(rec)
	if err != nil {
		return nil, err
	}
	hash := envHash(env)

	storedHash, err := handle.ReadFile(ctx, envHashPath)
	if err != nil {
		storedHash = ""
	}
	envChanged := storedHash != "" && strings.TrimSpace(storedHash) != hash

	alive := p.processAlive(ctx, handle)
	internalOK := alive && p.probeInternal(ctx, handle)
	externalOK := internalOK && p.probeExternal(ctx, url)

	if alive && internalOK && externalOK && !envChanged {
		status.Ready = true
		return status, nil
	}

	required := freshStartSuccesses
	switch {
	case envChanged:
		// Env changes only take effect on a fresh process, even when the
		// current one still answers probes.
		logger.LogInfof("dev_server", "sandbox=%s env changed, forcing restart", handle.ID())
		p.stop(ctx, handle)
		status.Restarted = true
		required = postRestartSuccesses
	case alive && !internalOK:
		// Zombie: process exists but stopped answering.
		logger.LogWarnf("dev_server", "sandbox=%s zombie process, restarting", handle.ID())
		p.stop(ctx, handle)
		status.Restarted = true
		required = postRestartSuccesses
	case alive && internalOK && !externalOK:
		// Edge routing can lag a resume; a restart re-registers the port.
		logger.LogWarnf("dev_server", "sandbox=%s internally up but not externally reachable, restarting", handle.ID())
		p.stop(ctx, handle)
		status.Restarted = true
		required = postRestartSuccesses
	}

	if err := p.start(ctx, handle, env, hash); err != nil {
		return nil, err
	}

	ready, err := p.pollReadiness(ctx, url, required)
	if err != nil {
		return nil, err
	}
	status.Ready = ready
	if !ready {
		status.Message = "dev server still starting"
	}
	return status, nil
}

func (p *Prober) materializeEnv(rec *domain.ProjectSandbox) (map[string]string, error) {
	if len(rec.EnvVars) == 0 || p.cipher == nil {
		return map[string]string{}, nil
	}
	env, err := p.cipher.DecryptAll(rec.EnvVars)
	if err != nil {
		return nil, fmt.Errorf("materialize env for project %s: %w", rec.ProjectID, err)
	}
	return env, nil
}

func (p *Prober) processAlive(ctx context.Context, handle Handle) bool {
	result, err := handle.RunCommand(ctx, fmt.Sprintf("pgrep -f '%s'", devServerPattern),
		provider.CommandOptions{Timeout: processQueryTimeout})
	if err != nil {
		return false
	}
	return result.ExitCode == 0 && strings.TrimSpace(result.Stdout) != ""
}

func (p *Prober) probeInternal(ctx context.Context, handle Handle) bool {
	cmd := fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' --max-time 5 http://localhost:%d", p.cfg.DevServerPort)
	result, err := handle.RunCommand(ctx, cmd, provider.CommandOptions{Timeout: internalProbeTimeout})
	if err != nil || result.ExitCode != 0 {
		return false
	}
	code := strings.TrimSpace(result.Stdout)
	return code != "" && code != "000"
}

// probeExternalURL checks reachability through the provider's edge. Any
// real HTTP status counts (a 404 still proves the edge is routing);
// only a transport-level failure means not reachable yet.
func (p *Prober) probeExternalURL(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (p *Prober) stop(ctx context.Context, handle Handle) {
	// Forceful kill: dev server state is not expected to be in flight.
	_, err := handle.RunCommand(ctx, fmt.Sprintf("pkill -9 -f '%s' || true", devServerPattern),
		provider.CommandOptions{Timeout: processQueryTimeout})
	if err != nil {
		NewLogger(ctx).LogError("dev_server_stop", err)
	}
}

func (p *Prober) start(ctx context.Context, handle Handle, env map[string]string, hash string) error {
	if err := handle.WriteFile(ctx, envHashPath, hash); err != nil {
		return fmt.Errorf("write env hash: %w", err)
	}

	_, err := handle.RunCommand(ctx, devServerCmd, provider.CommandOptions{
		Background: true,
		Cwd:        p.cfg.DevServerWorkdir,
		Env:        env,
	})
	if err != nil {
		return fmt.Errorf("start dev server: %w", err)
	}
	return nil
}

func (p *Prober) pollReadiness(ctx context.Context, url string, required int) (bool, error) {
	interval := p.cfg.ReadinessInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(p.cfg.ReadinessWindow)
	consecutive := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("polling dev server readiness: %w", domain.ErrOperationTimeout)
		case <-time.After(interval):
		}

		if p.probeExternal(ctx, url) {
			consecutive++
			if consecutive >= required {
				return true, nil
			}
		} else {
			consecutive = 0
		}
	}

	return false, nil
}

// envHash produces a stable fingerprint of an env var set.
func envHash(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, env[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
