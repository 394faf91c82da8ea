// Package serve supervises the external `trilogy serve` preview server.
// At most one server process runs at a time; its lifecycle is reported as a
// State snapshot to subscribers.
package serve

import (
	"errors"
	"fmt"
	"strings"
)

// InstallURL points users at installation instructions for the CLI.
const InstallURL = "https://github.com/trilogy-data/pytrilogy#installation"

// Phase is the lifecycle phase of the preview server.
type Phase string

// Phases. Starting and Running both mean the process is alive; Running means a
// serving URL was observed (or the grace period passed quietly).
const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

// Alive reports whether the phase has a live process.
func (p Phase) Alive() bool {
	return p == PhaseStarting || p == PhaseRunning
}

// State is a snapshot of the supervisor.
type State struct {
	Phase      Phase  `json:"phase"`
	FolderPath string `json:"folderPath,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
	Pid        int    `json:"pid,omitempty"`
}

// NoticeLevel classifies a Notice.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a one-off user facing message. Link, when set, is a URL the
// surface can offer to open.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Link    string      `json:"link,omitempty"`
}

// ErrNotRunning is returned by OpenURL when no serving URL is known.
var ErrNotRunning = errors.New("preview server is not running")

// ResolutionError reports that no runnable trilogy command was found.
type ResolutionError struct {
	Tried []string
}

func (e *ResolutionError) Error() string {
	msg := "trilogy CLI not found; install pytrilogy (pip install pytrilogy) to use the preview server"
	if len(e.Tried) > 0 {
		msg += " (tried: " + strings.Join(e.Tried, ", ") + ")"
	}
	return msg
}

// RuntimeError reports a process that could not be spawned or waited on.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return e.Err.Error() }

func (e *RuntimeError) Unwrap() error { return e.Err }

// ExitError reports a server process that exited with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}
