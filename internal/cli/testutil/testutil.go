// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/trilogyctl/internal/cli/output"
)

// SetupTestWorkspace creates a temporary workspace with two projects:
// analytics (duck_db, with a setup script creating an orders table) and
// sales (bigquery). A config under node_modules is present but never
// discovered.
func SetupTestWorkspace(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	files := map[string]string{
		"analytics/trilogy.toml":        "[engine]\ndialect = \"duck_db\"\nparallelism = 2\n\n[setup]\nsql = [\"setup.sql\"]\n",
		"analytics/setup.sql":           "CREATE TABLE orders AS SELECT range AS id, range * 10 AS amount FROM range(5);",
		"sales/trilogy.toml":            "[engine]\ndialect = 'bigquery'\n",
		"node_modules/pkg/trilogy.toml": "[engine]\ndialect = \"duck_db\"\n",
	}

	for name, content := range files {
		path := filepath.Join(tmpDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return tmpDir
}

// TestRenderer is an output.Renderer writing into buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer returns a renderer in mode that reports isTTY as its
// terminal state.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	tr := &TestRenderer{Out: new(bytes.Buffer), ErrOut: new(bytes.Buffer)}
	tr.Renderer = output.NewRendererWithTTY(tr.Out, tr.ErrOut, isTTY, mode)
	return tr
}

// NewTestRendererText renders tables as if on a terminal.
func NewTestRendererText() *TestRenderer { return NewTestRenderer(output.ModeText, true) }

// NewTestRendererJSON renders data as JSON to a pipe.
func NewTestRendererJSON() *TestRenderer { return NewTestRenderer(output.ModeJSON, false) }

// Output returns what was written to standard output.
func (tr *TestRenderer) Output() string { return tr.Out.String() }

// ErrorOutput returns what was written to the error stream.
func (tr *TestRenderer) ErrorOutput() string { return tr.ErrOut.String() }

// Reset empties both buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

var escapeSequence = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI fails the test when s carries terminal escape sequences.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	assert.False(t, escapeSequence.MatchString(s), "unexpected escape sequence in %q", s)
}

// AssertContains fails the test when s lacks want.
func AssertContains(t *testing.T, s, want string) {
	t.Helper()
	assert.Contains(t, s, want)
}
