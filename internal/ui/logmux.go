package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/harshul/droidpanel/internal/logsink"
	"github.com/harshul/droidpanel/internal/model"
)

// LogSource is the log the headless commands print.
type LogSource interface {
	Follow() (*logsink.Follower, func())
}

// LogStreamer prints every line of a LogSource as it arrives, the lines
// already in the log first. Trims and clears don't drop output.
type LogStreamer struct {
	follower *logsink.Follower
	stop     func()
	out      io.Writer

	normal  lipgloss.Style
	errors  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style

	mu sync.Mutex
}

// NewLogStreamer starts following src and returns a streamer writing to out.
// Colors are dropped when out is not a terminal. Close releases it.
func NewLogStreamer(src LogSource, out io.Writer) *LogStreamer {
	follower, stop := src.Follow()
	r := lipgloss.NewRenderer(out)
	return &LogStreamer{
		follower: follower,
		stop:     stop,
		out:      out,
		normal:   r.NewStyle(),
		errors:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF5555"}),
		success:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00AA00", Dark: "#00FF00"}),
		warning:  r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AAAA00", Dark: "#FFFF00"}),
	}
}

// Run prints new lines until ctx is done, then flushes what is left.
func (s *LogStreamer) Run(ctx context.Context) error {
	for {
		if err := s.Flush(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return s.Flush()
		case <-s.follower.Ready():
		}
	}
}

// Flush prints every pending line.
func (s *LogStreamer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.follower.Take() {
		if _, err := fmt.Fprintln(s.out, s.style(l.Kind).Render(l.Text)); err != nil {
			return fmt.Errorf("could not write log: %w", err)
		}
	}
	return nil
}

// Close stops following the log. Lines already pending can still be flushed.
func (s *LogStreamer) Close() {
	s.stop()
}

func (s *LogStreamer) style(kind model.LogKind) lipgloss.Style {
	switch kind {
	case model.KindError:
		return s.errors
	case model.KindSuccess:
		return s.success
	case model.KindWarning:
		return s.warning
	default:
		return s.normal
	}
}
