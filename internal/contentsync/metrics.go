package contentsync

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	Hits         metric.Int64Counter
	Misses       metric.Int64Counter
	Failures     metric.Int64Counter
	SyncDuration metric.Float64Histogram
	ArchiveSize  metric.Int64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("h5p-cache")

	hits, err := meter.Int64Counter(
		"h5p_cache.sync_hits",
		metric.WithDescription("Content requests served from an existing cache entry"))
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"h5p_cache.sync_misses",
		metric.WithDescription("Content requests that found no cache entry"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"h5p_cache.sync_failures",
		metric.WithDescription("Failed cache populations by error kind"))
	if err != nil {
		return nil, err
	}

	syncDuration, err := meter.Float64Histogram(
		"h5p_cache.sync_duration_seconds",
		metric.WithDescription("Time to fetch, extract and publish one package"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	archiveSize, err := meter.Int64Histogram(
		"h5p_cache.archive_size_bytes",
		metric.WithDescription("Size of downloaded content packages"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Hits:         hits,
		Misses:       misses,
		Failures:     failures,
		SyncDuration: syncDuration,
		ArchiveSize:  archiveSize,
	}, nil
}
