package handler

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	Renders        metric.Int64Counter
	RenderFailures metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("h5p-cache")

	renders, err := meter.Int64Counter(
		"h5p_cache.renders",
		metric.WithDescription("Total number of rendered player pages"))
	if err != nil {
		return nil, err
	}

	renderFailures, err := meter.Int64Counter(
		"h5p_cache.render_failures",
		metric.WithDescription("Total number of failed play requests"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Renders:        renders,
		RenderFailures: renderFailures,
	}, nil
}
