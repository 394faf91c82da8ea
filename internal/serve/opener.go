package serve

import (
	"context"
	"os/exec"
	"runtime"
)

// BrowserOpener opens URLs with the platform's default handler.
type BrowserOpener struct{}

// Open implements Opener. The launcher outlives ctx: callers pass request
// contexts that end as soon as Open returns.
func (BrowserOpener) Open(_ context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url) //nolint:noctx
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url) //nolint:noctx
	default:
		cmd = exec.Command("xdg-open", url) //nolint:noctx
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
