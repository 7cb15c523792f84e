package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/craftfast/sandbox-backend/config"
	"github.com/craftfast/sandbox-backend/internal/sandbox/domain"
)

const (
	// envdPort is the in-sandbox control agent port; file and command
	// operations go through it on the sandbox's own hostname.
	envdPort = 49983

	// defaultSandboxTimeoutSec is the provider-side idle timeout before
	// auto-pause (15 minutes).
	defaultSandboxTimeoutSec = 900
)

// Client talks to the remote compute provider's REST API (E2B-style).
// The control plane handles sandbox lifecycle; per-sandbox data plane
// calls (files, commands) go to the sandbox host directly.
type Client struct {
	apiKey  string
	domain  string
	baseURL string

	// Separate clients per timeout tier: lifecycle calls can block on a
	// cold resume, command runs carry their own per-call deadline.
	lifecycleClient *http.Client
	dataClient      *http.Client

	createTimeout time.Duration
}

// NewClient creates a provider client from config.
func NewClient(cfg config.ProviderConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		baseURL: fmt.Sprintf("https://api.%s", cfg.Domain),
		lifecycleClient: &http.Client{
			Timeout: cfg.ConnectTimeout,
		},
		dataClient: &http.Client{
			Timeout: cfg.CommandTimeout,
		},
		createTimeout: cfg.CreateTimeout,
	}
}

// Sandbox is a live handle to one remote sandbox. It is transient: the
// persisted binding's sandbox_id is the only durable reference.
type Sandbox struct {
	SandboxID string
	ProjectID string
	client    *Client
	domain    string
}

// Create provisions a fresh sandbox. This is the only way a new
// sandbox ID comes into existence.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Sandbox, error) {
	if req.Template == "" {
		return nil, fmt.Errorf("create sandbox: template required")
	}
	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = defaultSandboxTimeoutSec
	}

	body := createSandboxRequest{
		TemplateID: req.Template,
		Timeout:    timeoutSec,
		Metadata:   req.Metadata,
		EnvVars:    req.EnvVars,
	}

	ctx, cancel := context.WithTimeout(ctx, c.createTimeout)
	defer cancel()

	var resp sandboxResponse
	if err := c.controlPlaneCall(ctx, http.MethodPost, "/sandboxes", body, &resp); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	return c.newHandle(resp), nil
}

// Connect attaches to an existing sandbox, resuming it when paused.
// Callers cannot tell a resume (slow path) from an attach to an
// already-running sandbox (fast path). A 404 means the sandbox is
// permanently gone and satisfies errors.Is(err, domain.ErrSandboxNotFound).
func (c *Client) Connect(ctx context.Context, sandboxID string) (*Sandbox, error) {
	var resp sandboxResponse
	err := c.controlPlaneCall(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/resume", nil, &resp)
	if err != nil {
		// Already running: fall through to a plain lookup.
		if !isConflict(err) {
			return nil, fmt.Errorf("connect sandbox %s: %w", sandboxID, err)
		}
		if err := c.controlPlaneCall(ctx, http.MethodGet, "/sandboxes/"+url.PathEscape(sandboxID), nil, &resp); err != nil {
			return nil, fmt.Errorf("connect sandbox %s: %w", sandboxID, err)
		}
	}

	if resp.SandboxID == "" {
		resp.SandboxID = sandboxID
	}
	return c.newHandle(resp), nil
}

// Pause suspends a sandbox, stopping billing. Pausing an already-paused
// sandbox is a no-op success.
func (c *Client) Pause(ctx context.Context, sandboxID string) error {
	err := c.controlPlaneCall(ctx, http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/pause", nil, nil)
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return fmt.Errorf("pause sandbox %s: %w", sandboxID, err)
	}
	return nil
}

// Kill destroys a sandbox permanently. Reserved for decommissioned
// projects and restoration cleanup; the reconnect/create happy path
// never calls it.
func (c *Client) Kill(ctx context.Context, sandboxID string) error {
	err := c.controlPlaneCall(ctx, http.MethodDelete, "/sandboxes/"+url.PathEscape(sandboxID), nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("kill sandbox %s: %w", sandboxID, err)
	}
	return nil
}

func (c *Client) newHandle(resp sandboxResponse) *Sandbox {
	dom := resp.Domain
	if dom == "" {
		dom = c.domain
	}
	return &Sandbox{
		SandboxID: resp.SandboxID,
		client:    c,
		domain:    dom,
	}
}

// ID returns the provider-issued sandbox ID.
func (s *Sandbox) ID() string {
	return s.SandboxID
}

// Host returns the externally-routed hostname for a port inside the
// sandbox, e.g. "3000-sb123.e2b.app".
func (s *Sandbox) Host(port int) string {
	return fmt.Sprintf("%d-%s.%s", port, s.SandboxID, s.domain)
}

// RunCommand executes a shell command inside the sandbox via the envd
// agent. Background commands return a zero result immediately.
func (s *Sandbox) RunCommand(ctx context.Context, cmd string, opts CommandOptions) (*CommandResult, error) {
	body := runCommandRequest{
		Cmd:        cmd,
		Background: opts.Background,
		Cwd:        opts.Cwd,
		Env:        opts.Env,
	}
	if opts.Timeout > 0 {
		body.TimeoutMs = opts.Timeout.Milliseconds()
		var cancel context.CancelFunc
		// Envd enforces the timeout in-sandbox; give the HTTP call some
		// slack past it so we get the real exit status, not a cut socket.
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout+5*time.Second)
		defer cancel()
	}

	var result CommandResult
	if err := s.dataPlaneCall(ctx, http.MethodPost, "/commands", body, &result); err != nil {
		return nil, fmt.Errorf("run command in sandbox %s: %w", s.SandboxID, err)
	}
	return &result, nil
}

// WriteFile writes one file into the sandbox filesystem.
func (s *Sandbox) WriteFile(ctx context.Context, path, content string) error {
	return s.WriteFiles(ctx, []domain.ProjectFile{{Path: path, Content: content}})
}

// WriteFiles writes a batch of files in one call.
func (s *Sandbox) WriteFiles(ctx context.Context, files []domain.ProjectFile) error {
	if len(files) == 0 {
		return nil
	}
	body := writeFilesRequest{Files: make([]fileEntry, 0, len(files))}
	for _, f := range files {
		body.Files = append(body.Files, fileEntry{Path: f.Path, Content: f.Content})
	}
	if err := s.dataPlaneCall(ctx, http.MethodPost, "/files", body, nil); err != nil {
		return fmt.Errorf("write %d files to sandbox %s: %w", len(files), s.SandboxID, err)
	}
	return nil
}

// ReadFile reads one file from the sandbox filesystem.
func (s *Sandbox) ReadFile(ctx context.Context, path string) (string, error) {
	var resp fileEntry
	if err := s.dataPlaneCall(ctx, http.MethodGet, "/files?path="+url.QueryEscape(path), nil, &resp); err != nil {
		return "", fmt.Errorf("read %s from sandbox %s: %w", path, s.SandboxID, err)
	}
	return resp.Content, nil
}

func (c *Client) controlPlaneCall(ctx context.Context, method, path string, body, out interface{}) error {
	return c.call(ctx, c.lifecycleClient, method, c.baseURL+path, body, out)
}

func (s *Sandbox) dataPlaneCall(ctx context.Context, method, path string, body, out interface{}) error {
	base := fmt.Sprintf("https://%d-%s.%s", envdPort, s.SandboxID, s.domain)
	return s.client.call(ctx, s.client.dataClient, method, base+path, body, out)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, reqURL string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
