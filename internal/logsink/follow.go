package logsink

import (
	"sync"

	"github.com/harshul/droidpanel/internal/model"
)

// Follower receives every line appended to a sink, in order. Unlike
// snapshots it never loses lines to trims or clears, so it's what plain
// terminal output reads. Pending lines are kept until taken.
type Follower struct {
	mu      sync.Mutex
	pending []model.LogLine
	ready   chan struct{}
}

// Ready receives a value when lines are pending. Signals are coalesced.
func (f *Follower) Ready() <-chan struct{} { return f.ready }

// Take returns the pending lines and forgets them.
func (f *Follower) Take() []model.LogLine {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.pending
	f.pending = nil
	return out
}

func (f *Follower) push(lines []model.LogLine) {
	if len(lines) == 0 {
		return
	}

	f.mu.Lock()
	f.pending = append(f.pending, lines...)
	f.mu.Unlock()

	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Follow returns a follower starting with the current lines. The returned
// func stops it.
func (s *Sink) Follow() (*Follower, func()) {
	f := &Follower{ready: make(chan struct{}, 1)}

	s.mu.Lock()
	f.push(append([]model.LogLine(nil), s.lines...))
	s.followers[f] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return f, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.followers, f)
			s.mu.Unlock()
		})
	}
}
