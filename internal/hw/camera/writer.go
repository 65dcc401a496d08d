package camera

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/picast/internal/debug"
)

// Stop timings for recordings. A recording gets stopGrace to finish on its
// own, then abortWait after its sink writer is aborted.
var (
	stopGrace = 3 * time.Second
	abortWait = time.Second
)

var (
	// ErrWriteAborted is returned by writes after a stop gave up on the sink.
	ErrWriteAborted = errors.New("sink write aborted")
	// ErrSinkBlocked means a write into the sink never returned during stop.
	ErrSinkBlocked = errors.New("sink write blocked")
)

// writeDeadliner is implemented by sinks whose pending writes can be
// interrupted, such as a TCP connection.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// sinkWriter wraps the sink a recording writes into. It keeps the first write
// error and can be aborted: later writes fail, and a write blocked on a sink
// with a write deadline is released.
type sinkWriter struct {
	w       io.Writer
	aborted atomic.Bool
	pending atomic.Int32

	mu  sync.Mutex
	err error
}

func newSinkWriter(w io.Writer) *sinkWriter {
	return &sinkWriter{w: w}
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	if s.aborted.Load() {
		return 0, ErrWriteAborted
	}
	s.pending.Add(1)
	n, err := s.w.Write(p)
	s.pending.Add(-1)
	if err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	return n, err
}

// Err returns the first write error.
func (s *sinkWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// abort fails further writes and expires the sink's write deadline.
func (s *sinkWriter) abort() {
	s.aborted.Store(true)
	if d, ok := s.w.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now()); err != nil {
			debug.Verbose("Camera: set write deadline: %v", err)
		}
	}
}

// blocked reports whether a write is still inside the sink.
func (s *sinkWriter) blocked() bool {
	return s.pending.Load() > 0
}
