package provider

import "time"

// CreateRequest describes a new sandbox. Metadata is attached provider-side
// and comes back on inspection; restoration tags the replacement sandbox
// with the expired ID here for audit.
type CreateRequest struct {
	Template string            `json:"templateID"`
	Metadata map[string]string `json:"metadata,omitempty"`
	EnvVars  map[string]string `json:"envVars,omitempty"`
	// TimeoutSec is the provider-side idle timeout before auto-pause.
	TimeoutSec int `json:"timeout"`
}

// CommandOptions controls a command run inside the sandbox.
type CommandOptions struct {
	Timeout    time.Duration
	Background bool
	Cwd        string
	Env        map[string]string
}

// CommandResult is the outcome of a foreground command. Background
// commands return immediately with a zero result.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type createSandboxRequest struct {
	TemplateID string            `json:"templateID"`
	Timeout    int               `json:"timeout"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnvVars    map[string]string `json:"envVars,omitempty"`
}

type sandboxResponse struct {
	SandboxID string `json:"sandboxID"`
	Domain    string `json:"domain,omitempty"`
	State     string `json:"state,omitempty"`
}

type runCommandRequest struct {
	Cmd        string            `json:"cmd"`
	TimeoutMs  int64             `json:"timeout_ms,omitempty"`
	Background bool              `json:"background,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

type writeFilesRequest struct {
	Files []fileEntry `json:"files"`
}

type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
