package camera

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/picast/internal/debug"
)

// nextFrameFunc returns the next encoded frame. ok=false means no frame was
// ready (timeout) and the pump should try again.
type nextFrameFunc func() (frame []byte, ok bool, err error)

// framePump is the recording goroutine shared by the frame-grabbing backends.
// It plays the role of the encoder thread: it writes frames into the sink
// until stopped or until a read or write fails.
type framePump struct {
	sink     *sinkWriter
	stop     chan struct{}
	done     chan struct{}
	failed   chan error
	stopOnce sync.Once

	mu     sync.Mutex
	err    error
	frames int
}

// startPump starts writing frames to w. interval paces the loop (0 = as fast
// as next delivers, for devices that block until a frame is ready).
func startPump(w io.Writer, interval time.Duration, next nextFrameFunc) *framePump {
	p := &framePump{
		sink:   newSinkWriter(w),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}
	go p.run(interval, next)
	return p
}

func (p *framePump) run(interval time.Duration, next nextFrameFunc) {
	defer close(p.done)

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if tick != nil {
			select {
			case <-p.stop:
				return
			case <-tick:
			}
		}

		frame, ok, err := next()
		if err != nil {
			p.fail(fmt.Errorf("read frame: %w", err))
			return
		}
		if !ok {
			continue
		}
		if _, err := p.sink.Write(frame); err != nil {
			p.fail(fmt.Errorf("write frame: %w", err))
			return
		}
		p.mu.Lock()
		p.frames++
		p.mu.Unlock()
	}
}

func (p *framePump) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	select {
	case p.failed <- err:
	default:
	}
}

// Failed yields the error that ended the pump early.
func (p *framePump) Failed() <-chan error { return p.failed }

// Stop ends the pump and waits for the goroutine to exit. A pump stuck in a
// sink write gets stopGrace, then its sink is aborted; if the write still
// does not return, Stop gives up with ErrSinkBlocked. It returns the error
// that ended the pump early, if any.
func (p *framePump) Stop() error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-time.After(stopGrace):
		debug.Warn("Camera: frame writer still busy after %v, aborting sink", stopGrace)
		p.sink.abort()
		select {
		case <-p.done:
		case <-time.After(abortWait):
			p.fail(fmt.Errorf("stop recording: %w", ErrSinkBlocked))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	debug.Live("Camera: recording stopped after %d frames", p.frames)
	return p.err
}
