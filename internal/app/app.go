// Package app builds and owns the long-lived crawler services.
package app

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/archive"
	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/clock/system"
	"github.com/JakeFAU/booru-tag-crawler/internal/config"
	"github.com/JakeFAU/booru-tag-crawler/internal/crawl"
	"github.com/JakeFAU/booru-tag-crawler/internal/fetcher"
	"github.com/JakeFAU/booru-tag-crawler/internal/id/uuid"
	"github.com/JakeFAU/booru-tag-crawler/internal/logging"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
	"github.com/JakeFAU/booru-tag-crawler/internal/pipeline"
	"github.com/JakeFAU/booru-tag-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/booru-tag-crawler/internal/remote"
	"github.com/JakeFAU/booru-tag-crawler/internal/resolver"
	"github.com/JakeFAU/booru-tag-crawler/internal/retry"
	"github.com/JakeFAU/booru-tag-crawler/internal/tagcache"
)

// ErrLocked is returned when another crawler holds the instance lock.
var ErrLocked = errors.New("another crawler instance is running")

const shutdownTimeout = 10 * time.Second

// archiveSink is a batch sink the app owns and closes on shutdown.
type archiveSink interface {
	booru.Sink
	Close() error
}

// App holds the shared services for one crawler process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	runID      string
	lock       *flock.Flock
	cache      booru.TagCache
	archive    archiveSink
	client     *remote.Client
	controller *crawl.Controller
	closed     atomic.Bool
}

// New acquires the instance lock, opens the cache and archive, and wires the
// crawl pipeline. On failure everything opened so far is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	runID := uuid.New().MustRunID()
	logger = logging.WithRun(logger, runID)
	a := &App{cfg: cfg, logger: logger, runID: runID}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	if cfg.Lock.Path != "" {
		a.lock = flock.New(cfg.Lock.Path)
		locked, lockErr := a.lock.TryLock()
		if lockErr != nil {
			a.lock = nil
			return nil, errors.Wrap(lockErr, "acquire instance lock")
		}
		if !locked {
			a.lock = nil
			return nil, errors.Wrapf(ErrLocked, "lock %s", cfg.Lock.Path)
		}
	}

	a.cache, err = tagcache.Open(ctx, tagcache.Config{
		Driver:   cfg.Cache.Driver,
		Path:     cfg.Cache.Path,
		DSN:      cfg.Cache.DSN,
		Table:    cfg.Cache.Table,
		MaxConns: cfg.Cache.MaxConns,
	}, logger.Named("tagcache"))
	if err != nil {
		return nil, errors.Wrap(err, "open tag cache")
	}

	a.archive, err = openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.API.RequestsPerSecond,
		DefaultBurst: cfg.API.Burst,
	})
	a.client, err = remote.New(remote.Config{
		BaseURL:   cfg.API.BaseURL,
		PostsPath: cfg.API.PostsPath,
		TagsPath:  cfg.API.TagsPath,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.Timeout,
	}, &http.Client{Timeout: cfg.API.Timeout}, limiter, logger.Named("remote"))
	if err != nil {
		return nil, err
	}

	policy, err := retry.NewPolicy(retry.Config{
		MinDelay:    cfg.Retry.MinDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, logger.Named("retry"))
	if err != nil {
		return nil, err
	}

	res, err := resolver.New(a.cache, a.client, policy, logger)
	if err != nil {
		return nil, err
	}
	pages, err := fetcher.New(a.client, policy, fetcher.Config{
		PageSize:   cfg.API.PageSize,
		DomainTag:  cfg.Enrich.DomainTag,
		SourceTag:  cfg.Enrich.SourceTag,
		HashPrefix: cfg.Enrich.HashPrefix,
		IDPrefix:   cfg.Enrich.IDPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}
	namespaces, err := cfg.Enrich.NamespaceMap()
	if err != nil {
		return nil, err
	}
	enricher, err := pipeline.New(res, a.cache, pipeline.Config{
		Concurrency: cfg.Resolver.Concurrency,
		CommitEvery: cfg.Enrich.CommitEvery,
		Namespaces:  namespaces,
	}, logger)
	if err != nil {
		return nil, err
	}
	writer, err := archive.NewWriter(a.archive, system.New(), logger)
	if err != nil {
		return nil, err
	}
	a.controller, err = crawl.New(pages, enricher, writer, crawl.Config{
		WindowPages: cfg.Crawl.WindowPages,
		WindowPause: cfg.Crawl.WindowPause,
		LoopPause:   cfg.Crawl.LoopPause,
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("crawler ready",
		zap.String("api", cfg.API.BaseURL),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("archive", cfg.Archive.Driver),
	)
	return a, nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (archiveSink, error) {
	if cfg.Driver == "memory" {
		logger.Warn("archive driver is memory, committed batches will not be persisted")
		return archive.NewMemory(), nil
	}
	hashType, err := archive.ParseHashType(cfg.HashType)
	if err != nil {
		return nil, err
	}
	tags, err := archive.OpenTagArchive(ctx, cfg.Path, hashType, logger)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this process's crawl run.
func (a *App) RunID() string {
	return a.runID
}

// Controller returns the crawl controller.
func (a *App) Controller() *crawl.Controller {
	return a.controller
}

// Cache returns the tag cache.
func (a *App) Cache() booru.TagCache {
	return a.cache
}

// Close flushes pending cache writes and releases every resource. Calling it
// again logs a warning and does nothing.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		a.logger.Warn("app already closed")
		return nil
	}
	a.logger.Info("shutting down")

	var errs error
	if a.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.cache.Flush(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "flush cache"))
		}
		cancel()
	}
	errs = errors.CombineErrors(errs, a.release())
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(errs))
	}
	_ = a.logger.Sync()
	return errs
}

func (a *App) release() error {
	var errs error
	if a.archive != nil {
		errs = errors.CombineErrors(errs, a.archive.Close())
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "close cache"))
		}
	}
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "release lock"))
		}
	}
	return errs
}
