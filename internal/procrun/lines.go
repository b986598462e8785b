package procrun

import (
	"bytes"
	"sync"
)

// LineSplitter turns arbitrary output chunks into lines. A trailing partial
// line is kept until the next newline arrives or Flush is called.
type LineSplitter struct {
	emit   func(string)
	buffer []byte
	mu     sync.Mutex
}

// NewLineSplitter returns a splitter that calls emit for every non empty line.
func NewLineSplitter(emit func(string)) *LineSplitter {
	return &LineSplitter{
		emit:   emit,
		buffer: make([]byte, 0, 4096),
	}
}

// Write implements io.Writer.
func (s *LineSplitter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, p...)

	for {
		idx := bytes.IndexByte(s.buffer, '\n')
		if idx < 0 {
			break
		}

		line := s.buffer[:idx]
		s.buffer = s.buffer[idx+1:]
		s.emitLine(line)
	}

	return len(p), nil
}

// Flush emits the remaining partial line, if any.
func (s *LineSplitter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) > 0 {
		line := s.buffer
		s.buffer = s.buffer[:0]
		s.emitLine(line)
	}
}

func (s *LineSplitter) emitLine(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(line) == 0 {
		return
	}
	s.emit(string(line))
}
