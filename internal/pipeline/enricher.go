// Package pipeline enriches fetched posts with namespaced tags.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
)

// DefaultConcurrency bounds tag resolutions in flight across the process.
const DefaultConcurrency = 3

// TagResolver classifies a single tag.
type TagResolver interface {
	Resolve(ctx context.Context, name string) (booru.Tag, error)
}

// Flusher commits pending cache writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config controls enrichment.
type Config struct {
	Concurrency int
	// CommitEvery flushes the cache after this many enriched posts.
	CommitEvery int
	Namespaces  booru.Namespaces
}

// Enricher resolves every raw tag of a post and appends the namespaced forms.
// One Enricher is shared by all pages so its limit holds process-wide.
type Enricher struct {
	resolver    TagResolver
	cache       Flusher
	sem         *semaphore.Weighted
	namespaces  booru.Namespaces
	commitEvery int64
	commits     atomic.Int64
	logger      *zap.Logger
}

// New constructs an Enricher.
func New(resolver TagResolver, cache Flusher, cfg Config, logger *zap.Logger) (*Enricher, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CommitEvery <= 0 {
		cfg.CommitEvery = 1
	}
	if cfg.Namespaces == nil {
		cfg.Namespaces = booru.DefaultNamespaces()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		resolver:    resolver,
		cache:       cache,
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency)),
		namespaces:  cfg.Namespaces,
		commitEvery: int64(cfg.CommitEvery),
		logger:      logger.Named("pipeline"),
	}, nil
}

// EnrichPage enriches posts concurrently and returns them in input order.
func (e *Enricher) EnrichPage(ctx context.Context, posts []booru.Post) ([]booru.Post, error) {
	start := time.Now()
	out := make([]booru.Post, len(posts))

	g, gctx := errgroup.WithContext(ctx)
	for i := range posts {
		g.Go(func() error {
			post, err := e.enrichPost(gctx, posts[i])
			if err != nil {
				return err
			}
			out[i] = post
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := e.cache.Flush(ctx); err != nil {
		return nil, errors.Wrap(err, "flush cache")
	}

	var before, after int
	for i := range out {
		before += len(out[i].RawTags)
		after += len(out[i].Tags)
	}
	e.logger.Info("page enriched",
		zap.Int("posts", len(out)),
		zap.Int("raw_tags", before),
		zap.Int("tags", after),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (e *Enricher) enrichPost(ctx context.Context, post booru.Post) (booru.Post, error) {
	names := post.DistinctRawTags()
	resolved := make([]booru.Tag, len(names))
	ok := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			tag, err := e.resolve(gctx, name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("tag resolution failed",
					zap.Int64("post_id", post.ID),
					zap.String("tag", name),
					zap.Error(err),
				)
				return nil
			}
			resolved[i], ok[i] = tag, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return booru.Post{}, errors.Wrapf(err, "enrich post %d", post.ID)
	}

	post.Tags = append([]string(nil), post.Tags...)
	for i, tag := range resolved {
		if !ok[i] {
			continue
		}
		if qualified, has := e.namespaces.Qualify(tag); has {
			post.AddTag(qualified)
		}
	}

	if n := e.commits.Add(1); n%e.commitEvery == 0 {
		if err := e.cache.Flush(ctx); err != nil {
			return booru.Post{}, errors.Wrap(err, "flush cache")
		}
	}
	return post, nil
}

func (e *Enricher) resolve(ctx context.Context, name string) (booru.Tag, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return booru.Tag{}, err
	}
	defer e.sem.Release(1)
	metrics.IncInflightResolutions()
	defer metrics.DecInflightResolutions()

	return e.resolver.Resolve(ctx, name)
}
