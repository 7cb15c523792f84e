package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProjectSandboxState(t *testing.T) {
	pausedAt := time.Now().Add(-time.Hour)

	assert.Equal(t, StateUninitialized, (&ProjectSandbox{ProjectID: "p1"}).State())
	assert.Equal(t, StateRunning, (&ProjectSandbox{ProjectID: "p1", SandboxID: "sb-1"}).State())
	assert.Equal(t, StatePaused, (&ProjectSandbox{ProjectID: "p1", SandboxID: "sb-1", SandboxPausedAt: &pausedAt}).State())
}
