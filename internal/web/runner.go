package web

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/logic/capture"
)

// ErrBusy is returned by Start while another capture holds the camera.
var ErrBusy = errors.New("capture already in progress")

// RunCaptureFunc runs one capture session to completion.
type RunCaptureFunc func(ctx context.Context, cfg capture.Config) (capture.Result, error)

// Runner starts captures in the background, one at a time.
type Runner struct {
	run         RunCaptureFunc
	broadcaster *StatusBroadcaster

	mu      sync.Mutex
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

// NewRunner returns a runner whose captures are cancelled with ctx.
func NewRunner(ctx context.Context, run RunCaptureFunc, b *StatusBroadcaster) *Runner {
	return &Runner{run: run, broadcaster: b, ctx: ctx}
}

// Busy reports whether a capture is running.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches cfg in a goroutine. origin names who asked (for status messages).
func (r *Runner) Start(cfg capture.Config, origin string) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrBusy
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	r.broadcaster.Broadcast("info", fmt.Sprintf("%s capture to %s:%d started (%s)", cfg.Mode, cfg.Host, cfg.Port, origin))
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()

		res, err := r.run(r.ctx, cfg)
		if err != nil {
			r.broadcaster.Broadcast("error", "Capture failed: "+err.Error())
			debug.Error("Capture failed", err)
			return
		}
		r.broadcaster.Broadcast("info", fmt.Sprintf("Capture complete: %d bytes sent", res.BytesSent))
	}()
	return nil
}

// Wait blocks until the running capture, if any, has torn down.
func (r *Runner) Wait() {
	r.wg.Wait()
}
