//go:build !windows

package serve

import (
	"errors"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// SignalTerminator signals the whole process group of a child.
type SignalTerminator struct{}

// NewTerminator returns the terminator for this platform.
func NewTerminator() Terminator { return SignalTerminator{} }

// Terminate sends SIGTERM to the process group.
func (SignalTerminator) Terminate(p Process) error {
	return signalGroup(p.Pid(), syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (SignalTerminator) Kill(p Process) error {
	return signalGroup(p.Pid(), syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	// Negative pid addresses the process group
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
