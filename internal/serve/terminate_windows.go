//go:build windows

package serve

import (
	"os/exec"
	"strconv"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// TreeKillTerminator ends a process and its children with taskkill.
type TreeKillTerminator struct{}

// NewTerminator returns the terminator for this platform.
func NewTerminator() Terminator { return TreeKillTerminator{} }

// Terminate kills the process tree. Windows has no graceful equivalent that
// reaches console children, so this is already forceful.
func (TreeKillTerminator) Terminate(p Process) error {
	return taskkill(p.Pid())
}

// Kill kills the process tree.
func (TreeKillTerminator) Kill(p Process) error {
	return taskkill(p.Pid())
}

func taskkill(pid int) error {
	return exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/f", "/t").Run() //nolint:gosec // pid is numeric
}
