package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer wraps the scheduler's tracer provider, grounded on
// engine/monitoring.go's OpenTelemetryTracer: a resource-tagged provider
// registered globally, with spans started per scheduler cycle and per
// telescope HTTP call.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracer builds and registers a TracerProvider tagged with serviceName
// and environment as resource attributes.
func NewTracer(serviceName, environment string) (*Tracer, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return &Tracer{
		provider: tp,
		tracer:   otel.Tracer(serviceName),
	}, nil
}

// StartCycle opens a span around one scheduler main-loop iteration.
func (t *Tracer) StartCycle(ctx context.Context, telescope string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, "scheduler.cycle",
		oteltrace.WithAttributes(attribute.String("telescope", telescope)))
}

// StartRequest opens a span around one telescope controller HTTP call.
func (t *Tracer) StartRequest(ctx context.Context, endpoint string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, "telescope."+endpoint)
}

// Shutdown flushes and stops the provider, called once on graceful exit.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
