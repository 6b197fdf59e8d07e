package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionDefaults(t *testing.T) {
	assert.Equal(t, "0.0.0-dev", Version, "unreleased builds report a dev version")
	assert.Empty(t, Commit, "commit is only set through -ldflags")
}

func TestVersionOverride(t *testing.T) {
	prevVersion, prevCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = prevVersion, prevCommit })

	Version, Commit = "1.4.2", "9f1c2ab"

	assert.Equal(t, "1.4.2", Version)
	assert.Equal(t, "9f1c2ab", Commit)
}
