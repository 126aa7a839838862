// Package console provides the line-oriented output sink shared by the
// publish loop and the inbound command handler.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Sink writes one event per line. Writes from concurrent goroutines are
// serialized so lines never interleave.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Sink writing to w.
func New(w io.Writer) *Sink { return &Sink{w: w} }

// Println writes line followed by a newline unless it already ends in one.
func (s *Sink) Println(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(s.w, line)
	return err
}

// Printf formats according to format and writes the result as one line.
func (s *Sink) Printf(format string, args ...any) error {
	return s.Println(fmt.Sprintf(format, args...))
}
