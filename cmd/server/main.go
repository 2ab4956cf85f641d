package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kevingruber/h5p-cache/internal/archive"
	"github.com/kevingruber/h5p-cache/internal/cache"
	"github.com/kevingruber/h5p-cache/internal/config"
	"github.com/kevingruber/h5p-cache/internal/contentsync"
	"github.com/kevingruber/h5p-cache/internal/editor"
	"github.com/kevingruber/h5p-cache/internal/lock"
	"github.com/kevingruber/h5p-cache/internal/logging"
	"github.com/kevingruber/h5p-cache/internal/player"
	"github.com/kevingruber/h5p-cache/internal/server"
	"github.com/kevingruber/h5p-cache/internal/storage"
	"github.com/kevingruber/h5p-cache/internal/telemetry"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Setup logger
	logger := logging.New(cfg.Logging)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	cleanup, err := telemetry.SetupTelemetry(cfg.Sentry, cfg.Environment)
	defer cleanup()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to setup telemetry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, storage.Config{
		Driver:    cfg.Storage.Driver,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
		Prefix:    cfg.Storage.Prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create storage")
	}

	// The local development stack starts with an empty MinIO
	if minioStore, ok := store.(*storage.MinIOStorage); ok && cfg.IsDev() {
		if err := minioStore.EnsureBucket(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to create bucket")
		}
	}

	// Staging work older than twice the presign expiry can no longer be
	// a live population.
	dir, err := cache.NewDirectory(cfg.Cache.Root,
		cache.WithStaleAfter(max(cache.DefaultStaleAfter, 2*cfg.Cache.PresignExpiry)))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open cache directory")
	}

	locker, lockPinger := setupLock(cfg, logger)
	if closer, ok := lockPinger.(io.Closer); ok {
		defer closer.Close()
	}

	pipeline, err := contentsync.New(contentsync.Options{
		Directory:       dir,
		Store:           store,
		Extractor:       archive.NewZipExtractor(cfg.MaxExtractedSizeBytes()),
		Locker:          locker,
		HTTPClient:      &http.Client{},
		PresignExpiry:   cfg.Cache.PresignExpiry,
		MaxArchiveBytes: cfg.MaxArchiveSizeBytes(),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sync pipeline")
	}

	// Create and run server
	srv, err := server.New(cfg, server.Dependencies{
		Store:    store,
		Syncer:   pipeline,
		Renderer: player.NewPageRenderer(dir, cfg.Player.AssetsURL, cfg.Player.BasePath),
		Editor:   editor.NewFileEditor(dir, locker, logger),
		Entries:  dir,
		Lock:     lockPinger,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	// Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logger.Info().
		Str("environment", cfg.Environment).
		Str("storage", cfg.Storage.Driver).
		Str("lock", cfg.Lock.Driver).
		Str("cache_root", dir.Root()).
		Str("staging_dir", dir.StagingDir()).
		Msg("h5p cache configured")

	// Run server
	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}

// setupLock returns the population lock and, for a remote lock, the
// handle the health check probes.
func setupLock(cfg *config.Config, logger zerolog.Logger) (lock.Locker, server.Pinger) {
	if cfg.Lock.Driver != "redis" {
		return lock.NewLocal(), nil
	}

	// A population may run until its presigned URL expires; the lock
	// must not expire before it.
	ttl := cfg.Lock.TTL
	if ttl < cfg.Cache.PresignExpiry {
		ttl = cfg.Cache.PresignExpiry
	}

	redisLock, err := lock.NewRedis(lock.RedisConfig{
		Addr:      cfg.Lock.Redis.Addr,
		Password:  cfg.Lock.Redis.Password,
		DB:        cfg.Lock.Redis.DB,
		Namespace: cfg.Lock.Redis.Namespace,
		TTL:       ttl,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis lock")
	}
	return redisLock, redisLock
}
