// Package logsink keeps the ordered output log shown to the user.
package logsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harshul/droidpanel/internal/model"
)

const (
	// DefaultUpperWatermark is the size that triggers a trim.
	DefaultUpperWatermark = 1200
	// DefaultLowerWatermark is the size a trim leaves behind.
	DefaultLowerWatermark = 1000
)

// Config is the sink configuration.
type Config struct {
	UpperWatermark int
	LowerWatermark int
	// TimeFormat is used to prefix messages (not process output).
	TimeFormat string
	Now        func() time.Time
}

func (c *Config) defaults() error {
	if c.UpperWatermark == 0 {
		c.UpperWatermark = DefaultUpperWatermark
	}
	if c.LowerWatermark == 0 {
		c.LowerWatermark = DefaultLowerWatermark
	}
	if c.LowerWatermark <= 0 || c.LowerWatermark > c.UpperWatermark {
		return fmt.Errorf("lower watermark must be between 1 and the upper watermark")
	}

	if c.TimeFormat == "" {
		c.TimeFormat = "15:04:05"
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return nil
}

// Sink is an append only, bounded, ordered list of log lines. Appends may come
// from any goroutine; readers get snapshots and change notifications.
type Sink struct {
	upper      int
	lower      int
	timeFormat string
	now        func() time.Time
	entropy    *ulid.MonotonicEntropy

	mu          sync.RWMutex
	lines       []model.LogLine
	subscribers map[chan struct{}]struct{}
	followers   map[*Follower]struct{}
}

// New returns a new Sink.
func New(cfg Config) (*Sink, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Sink{
		upper:       cfg.UpperWatermark,
		lower:       cfg.LowerWatermark,
		timeFormat:  cfg.TimeFormat,
		now:         cfg.Now,
		entropy:     ulid.Monotonic(ulid.DefaultEntropy(), 0),
		lines:       make([]model.LogLine, 0, cfg.UpperWatermark),
		subscribers: map[chan struct{}]struct{}{},
		followers:   map[*Follower]struct{}{},
	}, nil
}

// Append adds raw lines with the same kind, in order.
func (s *Sink) Append(kind model.LogKind, texts ...string) {
	if len(texts) == 0 {
		return
	}

	s.mu.Lock()
	now := s.now()
	added := make([]model.LogLine, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		added = append(added, model.LogLine{
			ID:   ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
			Time: now,
			Text: t,
			Kind: kind,
		})
	}
	s.lines = append(s.lines, added...)
	s.trim()
	for f := range s.followers {
		f.push(added)
	}
	s.mu.Unlock()

	s.notify()
}

// Message appends a timestamped message.
func (s *Sink) Message(kind model.LogKind, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	s.Append(kind, "["+s.now().Format(s.timeFormat)+"] "+text)
}

// Infof appends a normal message.
func (s *Sink) Infof(format string, args ...any) { s.Message(model.KindNormal, format, args...) }

// Errorf appends an error message.
func (s *Sink) Errorf(format string, args ...any) { s.Message(model.KindError, format, args...) }

// Successf appends a success message.
func (s *Sink) Successf(format string, args ...any) { s.Message(model.KindSuccess, format, args...) }

// Warningf appends a warning message.
func (s *Sink) Warningf(format string, args ...any) { s.Message(model.KindWarning, format, args...) }

// trim drops the oldest lines down to the lower watermark once the upper
// one is exceeded. Must be called with the lock held.
func (s *Sink) trim() {
	if len(s.lines) <= s.upper {
		return
	}

	drop := len(s.lines) - s.lower
	kept := make([]model.LogLine, s.lower, s.upper)
	copy(kept, s.lines[drop:])
	s.lines = kept
}

// Snapshot returns a copy of the current lines.
func (s *Sink) Snapshot() []model.LogLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LogLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Len returns the number of lines.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// Clear removes every line.
func (s *Sink) Clear() {
	s.mu.Lock()
	s.lines = s.lines[:0]
	s.mu.Unlock()

	s.notify()
}

// Subscribe returns a channel that receives a value whenever the log changes.
// Notifications are coalesced: a slow reader sees one pending signal and
// re-reads the snapshot. The returned func unsubscribes.
func (s *Sink) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Sink) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
