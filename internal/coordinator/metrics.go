package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-podcast/coordinator"

type instruments struct {
	jobs     metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Counter
}

func (c *Coordinator) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var errs []error
	jobs, err := meter.Int64Counter("podcast.jobs.finished", metric.WithDescription("Jobs that reached a terminal status"))
	errs = append(errs, err)
	duration, err := meter.Float64Histogram("podcast.job.duration", metric.WithUnit("s"), metric.WithDescription("Wall time from job start to terminal status"))
	errs = append(errs, err)
	chunks, err := meter.Int64Counter("podcast.job.chunks", metric.WithDescription("Chunks processed by outcome"))
	errs = append(errs, err)
	active, err := meter.Int64ObservableGauge("podcast.jobs.active", metric.WithDescription("Jobs not yet in a terminal status"))
	errs = append(errs, err)
	if err == nil {
		_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			n, _ := c.tracker.counts()
			obs.ObserveInt64(active, int64(n))
			return nil
		}, active)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
		c.metrics = instruments{jobs: noop.Int64Counter{}, duration: noop.Float64Histogram{}, chunks: noop.Int64Counter{}}
		return
	}
	c.metrics = instruments{jobs: jobs, duration: duration, chunks: chunks}
}

func (c *Coordinator) recordFinished(ctx context.Context, job Job) {
	attrs := metric.WithAttributes(attribute.String("status", string(job.Status)))
	c.metrics.jobs.Add(ctx, 1, attrs)
	if job.StartedAt != nil && job.CompletedAt != nil {
		c.metrics.duration.Record(ctx, job.CompletedAt.Sub(*job.StartedAt).Seconds(), attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
