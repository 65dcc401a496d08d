package capture

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/cjeanneret/picast/internal/debug"
)

type metrics struct {
	bytes    metric.Int64Counter
	sessions metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	bytes, err1 := m.Int64Counter("picast.capture.bytes",
		metric.WithDescription("Bytes written to capture destinations"),
		metric.WithUnit("By"))
	sessions, err2 := m.Int64Counter("picast.capture.sessions",
		metric.WithDescription("Finished capture sessions by outcome"))
	duration, err3 := m.Float64Histogram("picast.capture.duration",
		metric.WithDescription("Capture session wall time"),
		metric.WithUnit("s"))
	if err := errors.Join(err1, err2, err3); err != nil {
		debug.Warn("Capture metrics disabled: %v", err)
		return newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return &metrics{bytes: bytes, sessions: sessions, duration: duration}
}

// outcome labels a session result: "ok" or the failed step.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if step := StepOf(err); step != "" {
		return string(step)
	}
	return "error"
}

func (m *metrics) record(ctx context.Context, cfg Config, res Result, err error) {
	attrs := metric.WithAttributes(
		attribute.String("mode", cfg.Mode.String()),
		attribute.String("encoding", string(cfg.Encoding)),
		attribute.String("outcome", outcome(err)),
	)
	m.bytes.Add(ctx, res.BytesSent, attrs)
	m.sessions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, res.Finished.Sub(res.Started).Seconds(), attrs)
}
