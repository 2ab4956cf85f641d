package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	sentryotel "github.com/getsentry/sentry-go/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kevingruber/h5p-cache/internal/config"
)

// SetupTelemetry installs the prometheus-backed meter provider and, when
// enabled, reports traces and errors to sentry. The returned cleanup
// function is never nil.
func SetupTelemetry(cfg config.SentryConfig, environment string) (func(), error) {

	// setup prometheus
	exporter, err := prometheus.New()
	if err != nil {
		return func() {}, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	shutdownMetrics := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		provider.Shutdown(ctx)
	}

	// setup sentry
	if !cfg.Enabled {
		return shutdownMetrics, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Dsn,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 1,
	})
	if err != nil {
		return shutdownMetrics, err
	}

	spanExporter := sentryotel.NewSentrySpanProcessor()

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanExporter))

	otel.SetTracerProvider(tp)

	cleanup := func() {
		tp.Shutdown(context.Background())
		sentry.Flush(2 * time.Second)
		shutdownMetrics()
	}
	return cleanup, nil
}

// CaptureError forwards err to sentry. It is a no-op when sentry is not
// initialised.
func CaptureError(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
