//go:build !unix

package procrun

import (
	"os"
	"os/exec"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup can only kill the direct child here, descendants are handled by
// the registry sweep.
func signalGroup(p *os.Process, _ signal) error {
	if p == nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

// SignalPid kills a single process.
func SignalPid(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

func exitFromState(ps *os.ProcessState) Exit {
	if ps == nil {
		return Exit{Code: -1}
	}
	return Exit{Code: ps.ExitCode()}
}
