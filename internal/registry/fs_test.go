package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSFinder_MissingRoot(t *testing.T) {
	found, err := NewFSFinder("trilogy.toml").Find(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFSFinder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFSFinder("trilogy.toml").Find(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsSkippedDir(t *testing.T) {
	assert.True(t, IsSkippedDir("node_modules"))
	assert.True(t, IsSkippedDir("__pycache__"))
	assert.False(t, IsSkippedDir("models"))
}

func TestDisplayPath_OutsideRoots(t *testing.T) {
	reg := New(Options{Roots: []string{"/ws/one"}})
	assert.Equal(t, "sub/trilogy.toml", reg.displayPath("/ws/one/sub/trilogy.toml"))
	assert.Equal(t, "/elsewhere/trilogy.toml", reg.displayPath("/elsewhere/trilogy.toml"))
}
