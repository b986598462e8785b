//go:build unix

package procrun

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// setProcessGroup puts the child in its own process group so the shell and
// everything it spawns can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return os.ErrProcessDone
	}

	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// SignalPid signals a single process, used for descendants that left the group.
func SignalPid(pid int, kill bool) error {
	sig := sigTerm
	if kill {
		sig = sigKill
	}

	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func exitFromState(ps *os.ProcessState) Exit {
	if ps == nil {
		return Exit{Code: -1}
	}

	ws, ok := ps.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return Exit{
			Code:     128 + int(ws.Signal()),
			Signaled: true,
			Signal:   ws.Signal().String(),
		}
	}

	return Exit{Code: ps.ExitCode()}
}
