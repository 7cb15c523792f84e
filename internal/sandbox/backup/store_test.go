package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectPrefixLayout(t *testing.T) {
	s := NewStoreWithClient(nil, "backups", "/snapshots/")
	assert.Equal(t, "snapshots/p1/", s.projectPrefix("p1"))

	bare := NewStoreWithClient(nil, "backups", "snapshots")
	assert.Equal(t, "snapshots/p1/", bare.projectPrefix("p1"))
}
