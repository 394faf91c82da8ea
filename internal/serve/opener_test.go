package serve

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserOpener_OutlivesContext(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("fake launcher is an xdg-open shell script")
	}

	bin := t.TempDir()
	marker := filepath.Join(t.TempDir(), "opened")
	script := "#!/bin/sh\nsleep 0.3\necho \"$1\" > " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "xdg-open"), []byte(script), 0o700)) //nolint:gosec // test executable
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, BrowserOpener{}.Open(ctx, "http://127.0.0.1:8100"))
	cancel()

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8100\n", string(got))
}
