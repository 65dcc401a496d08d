package web

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/cjeanneret/picast/internal/config"
	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/logic/capture"
)

// CronLogger adapts slog to the cron.Logger interface.
type CronLogger struct {
	Logger *slog.Logger
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}

// ScheduleConfig turns a schedule entry into a capture config. Defaults fill
// in a missing resolution or framerate.
func ScheduleConfig(e config.ScheduleEntry, defaults config.DefaultsConfig) (capture.Config, error) {
	mode, err := capture.ParseMode(e.Mode)
	if e.Mode == "" {
		mode, err = capture.Still, nil
	}
	if err != nil {
		return capture.Config{}, err
	}
	req := CaptureRequest{
		Width:        e.Width,
		Height:       e.Height,
		Framerate:    e.Framerate,
		Host:         e.Host,
		Port:         e.Port,
		StreamLength: e.Duration().Seconds(),
	}
	if req.Width == 0 {
		req.Width = defaults.Width
	}
	if req.Height == 0 {
		req.Height = defaults.Height
	}
	if req.Framerate == 0 {
		req.Framerate = defaults.Framerate
	}
	if err := ValidateRequest(mode, req); err != nil {
		return capture.Config{}, err
	}
	return req.ToConfig(mode), nil
}

// NewScheduler registers every entry with a seconds-enabled cron. A tick that
// finds the camera busy is skipped.
func NewScheduler(entries []config.ScheduleEntry, defaults config.DefaultsConfig, runner *Runner) (*cron.Cron, error) {
	logger := &CronLogger{Logger: debug.Logger()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	for i, e := range entries {
		cfg, err := ScheduleConfig(e, defaults)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		spec := e.Spec
		_, err = c.AddFunc(spec, func() {
			err := runner.Start(cfg, "schedule "+spec)
			if errors.Is(err, ErrBusy) {
				debug.Warn("Scheduled capture %q skipped: camera busy", spec)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule[%d] %q: %w", i, spec, err)
		}
		debug.Info("Scheduled %s capture to %s:%d at %q", cfg.Mode, cfg.Host, cfg.Port, spec)
	}
	return c, nil
}

// StopScheduler stops c, waits for a tick in progress to return, then waits
// for any capture still running. A tick cannot start a capture once the
// runner is being waited on.
func StopScheduler(c *cron.Cron, runner *Runner) {
	<-c.Stop().Done()
	runner.Wait()
}
