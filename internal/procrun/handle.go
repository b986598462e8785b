package procrun

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
)

// Exit is the final status of a process.
type Exit struct {
	// Code is the exit code. Processes killed by a signal report 128+signal.
	Code     int
	Signaled bool
	Signal   string
	// CancelRequested is true when the process was asked to stop by the user.
	CancelRequested bool
}

// Success reports a normal zero exit that was not cancelled.
func (e Exit) Success() bool {
	return e.Code == 0 && !e.Signaled && !e.CancelRequested
}

// Handle is a running (or finished) process.
type Handle struct {
	Pid    int
	Label  string
	TaskID string

	cmd   *exec.Cmd
	lines chan Line
	done  chan struct{}

	cancelRequested atomic.Bool
	mu              sync.Mutex
	exit            Exit
}

func newHandle(cmd *exec.Cmd, spec Spec) *Handle {
	return &Handle{
		Pid:    cmd.Process.Pid,
		Label:  spec.Label,
		TaskID: spec.TaskID,
		cmd:    cmd,
		lines:  make(chan Line, 256),
		done:   make(chan struct{}),
	}
}

// Lines returns the output lines. The channel is closed once both streams
// reached EOF.
func (h *Handle) Lines() <-chan Line { return h.lines }

// Done is closed when the exit status is known and all output was delivered.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the process has not finished yet.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Exit returns the exit status, only meaningful after Done.
func (h *Handle) Exit() Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.exit
	e.CancelRequested = h.cancelRequested.Load()
	return e
}

// MarkCancelRequested flags the handle as stopped by the user.
func (h *Handle) MarkCancelRequested() { h.cancelRequested.Store(true) }

// CancelRequested reports whether MarkCancelRequested was called.
func (h *Handle) CancelRequested() bool { return h.cancelRequested.Load() }

// Terminate asks the process group to stop.
func (h *Handle) Terminate() error {
	return signalGroup(h.cmd.Process, sigTerm)
}

// Kill force stops the process group.
func (h *Handle) Kill() error {
	return signalGroup(h.cmd.Process, sigKill)
}

func (h *Handle) wait(streams []io.Reader) {
	var wg sync.WaitGroup
	for i, r := range streams {
		wg.Add(1)
		go func(r io.Reader, stream Stream) {
			defer wg.Done()
			h.pump(r, stream)
		}(r, Stream(i))
	}

	// Pipes must be fully read before Wait closes them.
	wg.Wait()
	close(h.lines)

	_ = h.cmd.Wait()

	h.mu.Lock()
	h.exit = exitFromState(h.cmd.ProcessState)
	h.mu.Unlock()

	close(h.done)
}

func (h *Handle) pump(r io.Reader, stream Stream) {
	splitter := NewLineSplitter(func(text string) {
		h.lines <- Line{Stream: stream, Text: text}
	})

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = splitter.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	splitter.Flush()
}
