// Package telemetry records capture pipeline counters with OpenTelemetry.
// A nil *Recorder is valid and records nothing.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/snaptrail/snaptrail/internal/config"
)

const serviceName = "snaptrail"

// Recorder holds the pipeline instruments.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	ticks         metric.Int64Counter
	probeFailures metric.Int64Counter
	events        metric.Int64Counter
	requests      metric.Int64Counter
	screenshots   metric.Int64Counter
	actions       metric.Int64Counter
}

// New builds a Recorder. Disabled telemetry yields noop instruments; enabled
// telemetry exports to cfg.Endpoint over OTLP/gRPC.
func New(ctx context.Context, cfg config.TelemetryConfig, version string) (*Recorder, error) {
	if !cfg.Enabled {
		return newRecorder(noop.NewMeterProvider(), nil)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create OTLP exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			attribute.String("service.instance.id", uuid.NewString()),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.ExportInterval))),
		sdkmetric.WithResource(res),
	)
	return newRecorder(provider, provider)
}

func newRecorder(mp metric.MeterProvider, sdk *sdkmetric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(serviceName)
	r := &Recorder{provider: sdk}

	var err error
	if r.ticks, err = meter.Int64Counter("snaptrail_tracker_ticks_total",
		metric.WithDescription("Tracker poll ticks"), metric.WithUnit("{tick}")); err != nil {
		return nil, errors.Wrap(err, "failed to create ticks counter")
	}
	if r.probeFailures, err = meter.Int64Counter("snaptrail_tracker_probe_failures_total",
		metric.WithDescription("Ticks whose window or idle probe failed"), metric.WithUnit("{tick}")); err != nil {
		return nil, errors.Wrap(err, "failed to create probe failure counter")
	}
	if r.events, err = meter.Int64Counter("snaptrail_activity_events_total",
		metric.WithDescription("Closed activity events"), metric.WithUnit("{event}")); err != nil {
		return nil, errors.Wrap(err, "failed to create events counter")
	}
	if r.requests, err = meter.Int64Counter("snaptrail_screenshot_requests_total",
		metric.WithDescription("Periodic screenshot requests submitted by the tracker"), metric.WithUnit("{request}")); err != nil {
		return nil, errors.Wrap(err, "failed to create requests counter")
	}
	if r.screenshots, err = meter.Int64Counter("snaptrail_screenshots_total",
		metric.WithDescription("Periodic screenshot outcomes"), metric.WithUnit("{screenshot}")); err != nil {
		return nil, errors.Wrap(err, "failed to create screenshots counter")
	}
	if r.actions, err = meter.Int64Counter("snaptrail_action_captures_total",
		metric.WithDescription("Action capture outcomes"), metric.WithUnit("{capture}")); err != nil {
		return nil, errors.Wrap(err, "failed to create actions counter")
	}
	return r, nil
}

// Tick counts one tracker poll.
func (r *Recorder) Tick(ctx context.Context) {
	if r == nil {
		return
	}
	r.ticks.Add(ctx, 1)
}

// ProbeFailure counts a tick whose probes failed.
func (r *Recorder) ProbeFailure(ctx context.Context) {
	if r == nil {
		return
	}
	r.probeFailures.Add(ctx, 1)
}

// EventClosed counts a closed activity event by state.
func (r *Recorder) EventClosed(ctx context.Context, state string) {
	if r == nil {
		return
	}
	r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// ScreenshotRequested counts a periodic capture request.
func (r *Recorder) ScreenshotRequested(ctx context.Context) {
	if r == nil {
		return
	}
	r.requests.Add(ctx, 1)
}

// ScreenshotOutcome counts a periodic capture outcome such as "saved",
// "overwritten", "skipped" or "dropped".
func (r *Recorder) ScreenshotOutcome(ctx context.Context, outcome string) {
	if r == nil {
		return
	}
	r.screenshots.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ActionOutcome counts an action capture outcome.
func (r *Recorder) ActionOutcome(ctx context.Context, action, outcome string) {
	if r == nil {
		return
	}
	r.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// Shutdown flushes pending metrics.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}
