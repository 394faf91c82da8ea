package serve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/trilogyctl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o700))
}

func newTestResolver(t *testing.T, opts ResolverOptions) (*Resolver, *fakeProber) {
	t.Helper()
	prober, ok := opts.Prober.(*fakeProber)
	if !ok {
		prober = &fakeProber{ok: func([]string) bool { return true }}
		opts.Prober = prober
	}
	opts.Logger = testutil.NewTestLogger(t)
	r := NewResolver(opts)
	r.goos = "linux"
	r.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(r.Close)
	return r, prober
}

func TestResolve_OverrideIsShellSplit(t *testing.T) {
	r, prober := newTestResolver(t, ResolverOptions{Override: `uv run --project "my proj" trilogy`})

	argv, err := r.Resolve(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"uv", "run", "--project", "my proj", "trilogy"}, argv)
	assert.Equal(t, 1, prober.callCount())
}

func TestResolve_InvalidOverride(t *testing.T) {
	r, _ := newTestResolver(t, ResolverOptions{Override: `trilogy "unterminated`})
	_, err := r.Resolve(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "invalid serve command")
}

func TestResolve_InterpreterSibling(t *testing.T) {
	dir := t.TempDir()
	sibling := filepath.Join(dir, "bin", "trilogy")
	touch(t, sibling)

	r, _ := newTestResolver(t, ResolverOptions{
		Interpreter: func() string { return filepath.Join(dir, "bin", "python") },
	})

	argv, err := r.Resolve(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{sibling}, argv)
}

func TestResolve_FolderEnvBeatsRootEnv(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "project")
	rootCmd := filepath.Join(root, ".venv", "bin", "trilogy")
	folderCmd := filepath.Join(folder, "venv", "bin", "trilogy")
	touch(t, rootCmd)
	touch(t, folderCmd)

	r, _ := newTestResolver(t, ResolverOptions{Roots: []string{root}})

	argv, err := r.Resolve(context.Background(), folder)
	require.NoError(t, err)
	assert.Equal(t, []string{folderCmd}, argv)
}

func TestResolve_SkipsCandidatesThatFailProbe(t *testing.T) {
	folder := t.TempDir()
	broken := filepath.Join(folder, ".venv", "bin", "trilogy")
	working := filepath.Join(folder, "env", "bin", "trilogy")
	touch(t, broken)
	touch(t, working)

	r, _ := newTestResolver(t, ResolverOptions{
		Prober: &fakeProber{ok: func(argv []string) bool { return argv[0] == working }},
	})

	argv, err := r.Resolve(context.Background(), folder)
	require.NoError(t, err)
	assert.Equal(t, []string{working}, argv)
}

func TestResolve_WindowsLayout(t *testing.T) {
	folder := t.TempDir()
	cmd := filepath.Join(folder, ".env", "Scripts", "trilogy.exe")
	touch(t, cmd)

	r, _ := newTestResolver(t, ResolverOptions{})
	r.goos = "windows"

	argv, err := r.Resolve(context.Background(), folder)
	require.NoError(t, err)
	assert.Equal(t, []string{cmd}, argv)
}

func TestResolve_PathFallback(t *testing.T) {
	r, _ := newTestResolver(t, ResolverOptions{})
	r.lookPath = func(string) (string, error) { return "/usr/local/bin/trilogy", nil }

	argv, err := r.Resolve(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/trilogy"}, argv)
}

func TestResolve_ProbeResultsAreCached(t *testing.T) {
	r, prober := newTestResolver(t, ResolverOptions{})
	r.lookPath = func(string) (string, error) { return "/usr/bin/trilogy", nil }

	for range 3 {
		_, err := r.Resolve(context.Background(), t.TempDir())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, prober.callCount())
}

func TestResolve_NothingFound(t *testing.T) {
	folder := t.TempDir()
	r, prober := newTestResolver(t, ResolverOptions{Roots: []string{folder}})

	_, err := r.Resolve(context.Background(), folder)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, 0, prober.callCount(), "missing files are never probed")
	assert.Len(t, resErr.Tried, len(envDirs)+1)
	assert.Equal(t, "trilogy", resErr.Tried[len(resErr.Tried)-1])
	assert.True(t, strings.Contains(err.Error(), "pip install pytrilogy"))
}
