// Package contentsync materialises content packages from the object
// store into the local cache, at most once per content id.
//
// A request first checks the cache directory. On a miss, concurrent
// callers for the same id share one population: the archive is fetched
// through a presigned URL into a staging area, extracted, normalised
// and pruned there, and only then renamed into place. Callers never see
// a partially populated entry, and a failed population leaves nothing
// behind.
package contentsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kevingruber/h5p-cache/internal/archive"
	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/h5p"
	"github.com/kevingruber/h5p-cache/internal/lock"
	"github.com/kevingruber/h5p-cache/internal/storage"
)

// DefaultPresignExpiry bounds both the presigned URL and the population.
const DefaultPresignExpiry = storage.DefaultPresignExpiry

// Presigner issues time-limited fetch URLs. storage.ObjectStore satisfies it.
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Entry is a complete cache entry.
type Entry struct {
	ContentID string
	Dir       string
}

// Options configures a Pipeline.
type Options struct {
	Directory *cache.Directory
	Store     Presigner
	Extractor archive.Extractor
	// Locker serialises writers of one id across goroutines or replicas.
	// Defaults to an in-process lock.
	Locker     lock.Locker
	HTTPClient *http.Client
	// PresignExpiry is the lifetime of fetch URLs and the upper bound
	// on one population. Zero selects DefaultPresignExpiry.
	PresignExpiry time.Duration
	// MaxArchiveBytes caps the download size. Zero means unbounded.
	MaxArchiveBytes int64
	Logger          zerolog.Logger
}

// Pipeline implements the sync-if-absent operation.
type Pipeline struct {
	dir        *cache.Directory
	store      Presigner
	extractor  archive.Extractor
	locker     lock.Locker
	client     *http.Client
	expiry     time.Duration
	maxArchive int64
	logger     zerolog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	group      singleflight.Group
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Directory == nil {
		return nil, errors.New("cache directory required")
	}
	if opts.Store == nil {
		return nil, errors.New("object store required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("extractor required")
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		dir:        opts.Directory,
		store:      opts.Store,
		extractor:  opts.Extractor,
		locker:     opts.Locker,
		client:     opts.HTTPClient,
		expiry:     opts.PresignExpiry,
		maxArchive: opts.MaxArchiveBytes,
		logger:     opts.Logger.With().Str("component", "contentsync").Logger(),
		metrics:    metrics,
		tracer:     otel.Tracer("h5p-cache/contentsync"),
	}
	if p.locker == nil {
		p.locker = lock.NewLocal()
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.expiry <= 0 {
		p.expiry = DefaultPresignExpiry
	}
	return p, nil
}

// Ensure returns the cache entry for contentID, populating it from
// objectName if it does not exist yet. An existing entry is trusted
// without re-validation.
func (p *Pipeline) Ensure(ctx context.Context, contentID, objectName string) (*Entry, error) {
	if err := h5p.ValidateContentID(contentID); err != nil {
		return nil, newError(KindValidation, contentID, "validate", err)
	}
	if objectName == "" {
		return nil, newError(KindValidation, contentID, "validate", errors.New("object name required"))
	}

	entry, ok, err := p.lookup(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if ok {
		p.metrics.Hits.Add(ctx, 1)
		return entry, nil
	}
	p.metrics.Misses.Add(ctx, 1)

	// The population outlives any single caller: others may be waiting
	// on it. It is bounded by the presign expiry instead.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(contentID, func() (any, error) {
		return p.populate(flightCtx, contentID, objectName)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, newError(KindStore, contentID, "wait", ctx.Err())
	}
}

// Purge removes the entry for contentID so the next Ensure fetches it again.
func (p *Pipeline) Purge(ctx context.Context, contentID string) error {
	if err := h5p.ValidateContentID(contentID); err != nil {
		return newError(KindValidation, contentID, "validate", err)
	}

	unlock, err := p.locker.Lock(ctx, contentID)
	if err != nil {
		return newError(KindFilesystem, contentID, "lock", err)
	}
	defer unlock()

	if err := p.dir.Remove(contentID); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return err
		}
		return newError(KindFilesystem, contentID, "purge", err)
	}
	p.logger.Info().Str("content_id", contentID).Msg("cache entry purged")
	return nil
}

func (p *Pipeline) lookup(ctx context.Context, contentID string) (*Entry, bool, error) {
	exists, err := p.dir.Exists(ctx, contentID)
	if err != nil {
		return nil, false, newError(KindFilesystem, contentID, "stat", err)
	}
	if !exists {
		return nil, false, nil
	}
	path, err := p.dir.Path(contentID)
	if err != nil {
		return nil, false, newError(KindValidation, contentID, "validate", err)
	}
	return &Entry{ContentID: contentID, Dir: path}, true, nil
}

func (p *Pipeline) populate(ctx context.Context, contentID, objectName string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, p.expiry)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "contentsync.populate", trace.WithAttributes(
		attribute.String("content_id", contentID),
		attribute.String("object_name", objectName),
	))
	defer span.End()

	unlock, err := p.locker.Lock(ctx, contentID)
	if err != nil {
		return nil, p.fail(ctx, span, newError(KindFilesystem, contentID, "lock", err))
	}
	defer unlock()

	// Another caller may have published between our lookup and the lock.
	if entry, ok, err := p.lookup(ctx, contentID); err != nil || ok {
		if err != nil {
			return nil, p.fail(ctx, span, err)
		}
		return entry, nil
	}

	start := time.Now()
	entry, size, err := p.materialize(ctx, contentID, objectName)
	if err != nil {
		return nil, p.fail(ctx, span, err)
	}

	elapsed := time.Since(start)
	p.metrics.SyncDuration.Record(ctx, elapsed.Seconds())
	p.metrics.ArchiveSize.Record(ctx, size)
	p.logger.Info().
		Str("content_id", contentID).
		Str("object_name", objectName).
		Int64("archive_bytes", size).
		Dur("duration", elapsed).
		Msg("content synced")
	return entry, nil
}

// materialize runs fetch, extract, normalise, prune and publish inside
// a fresh staging area, which is always discarded on return.
func (p *Pipeline) materialize(ctx context.Context, contentID, objectName string) (entry *Entry, size int64, err error) {
	url, err := p.store.PresignedURL(ctx, objectName, p.expiry)
	if err != nil {
		return nil, 0, newError(KindStore, contentID, "presign", err)
	}

	staging, err := p.dir.NewStaging(contentID)
	if err != nil {
		return nil, 0, newError(KindFilesystem, contentID, "stage", err)
	}
	defer func() {
		if discardErr := staging.Discard(); discardErr != nil {
			p.logger.Warn().Err(discardErr).Str("content_id", contentID).Msg("failed to clean up staging")
		}
	}()

	size, err = p.download(ctx, contentID, url, staging.ArchivePath())
	if err != nil {
		return nil, 0, err
	}

	if err := p.extractor.Extract(ctx, staging.ArchivePath(), staging.Dir()); err != nil {
		kind := KindExtraction
		if errors.Is(err, archive.ErrNotWritable) {
			kind = KindFilesystem
		}
		return nil, size, newError(kind, contentID, "extract", err)
	}

	if err := normalize(staging.Dir()); err != nil {
		kind := KindFilesystem
		if errors.Is(err, ErrInvalidPackage) {
			kind = KindExtraction
		}
		return nil, size, newError(kind, contentID, "normalize", err)
	}

	if err := prune(staging.Dir()); err != nil {
		return nil, size, newError(KindFilesystem, contentID, "prune", err)
	}

	if err := staging.RemoveArchive(); err != nil {
		return nil, size, newError(KindFilesystem, contentID, "cleanup", err)
	}

	path, err := staging.Commit()
	if err != nil {
		if errors.Is(err, cache.ErrEntryExists) {
			existing, _, lookupErr := p.lookup(ctx, contentID)
			if lookupErr == nil && existing != nil {
				return existing, size, nil
			}
		}
		return nil, size, newError(KindFilesystem, contentID, "publish", err)
	}

	return &Entry{ContentID: contentID, Dir: path}, size, nil
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, err error) error {
	kind := KindOf(err)
	p.metrics.Failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	span.RecordError(err)
	span.SetStatus(codes.Error, fmt.Sprintf("%s failure", kind))
	return err
}
