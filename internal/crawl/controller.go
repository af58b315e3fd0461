// Package crawl drives the fetch, enrich and write stages for each crawl mode.
package crawl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// PageSource loads one listing page.
type PageSource interface {
	FetchPage(ctx context.Context, page int) ([]booru.Post, error)
}

// PageEnricher adds namespaced tags to a page of posts.
type PageEnricher interface {
	EnrichPage(ctx context.Context, posts []booru.Post) ([]booru.Post, error)
}

// BatchWriter delivers posts to the sink as one batch.
type BatchWriter interface {
	WriteBatch(ctx context.Context, posts []booru.Post, label string) error
}

// Config controls full-crawl pacing.
type Config struct {
	WindowPages int
	WindowPause time.Duration
	LoopPause   time.Duration
}

// DefaultConfig returns four-page windows, 2s apart, and 5m between cycles.
func DefaultConfig() Config {
	return Config{
		WindowPages: 4,
		WindowPause: 2 * time.Second,
		LoopPause:   5 * time.Minute,
	}
}

// Controller runs crawl modes.
type Controller struct {
	source   PageSource
	enricher PageEnricher
	writer   BatchWriter
	cfg      Config
	state    atomic.Int32
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Controller.
func New(source PageSource, enricher PageEnricher, writer BatchWriter, cfg Config, logger *zap.Logger) (*Controller, error) {
	if source == nil || enricher == nil || writer == nil {
		return nil, errors.New("source, enricher and writer are required")
	}
	if cfg.WindowPages <= 0 {
		return nil, errors.Newf("crawl window must be positive, got %d", cfg.WindowPages)
	}
	if cfg.WindowPause < 0 || cfg.LoopPause < 0 {
		return nil, errors.New("crawl pauses must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		source:   source,
		enricher: enricher,
		writer:   writer,
		cfg:      cfg,
		logger:   logger.Named("crawl"),
		sleep:    sleepContext,
	}, nil
}

// State reports what the controller is doing.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Latest crawls the newest page.
func (c *Controller) Latest(ctx context.Context) error {
	defer c.setState(StateIdle)
	posts, err := c.page(ctx, 0)
	if err != nil {
		return err
	}
	return c.write(ctx, posts, "index")
}

// Pages crawls pages start through end inclusive as one batch.
func (c *Controller) Pages(ctx context.Context, start, end int) error {
	if start < 0 || end < start {
		return errors.Newf("invalid page range %d - %d", start, end)
	}
	defer c.setState(StateIdle)
	posts, err := c.pageRange(ctx, start, end)
	if err != nil {
		return err
	}
	return c.write(ctx, posts, fmt.Sprintf("pages: %d - %d", start, end))
}

// Until crawls from the newest page back to the first page holding a post
// older than target, keeping only posts with id >= target.
func (c *Controller) Until(ctx context.Context, target int64) error {
	defer c.setState(StateIdle)
	var wanted []booru.Post
	for page := 0; ; page++ {
		posts, err := c.page(ctx, page)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			c.logger.Info("empty page, stopping", zap.Int("page", page))
			break
		}
		older := false
		for _, post := range posts {
			if post.ID >= target {
				wanted = append(wanted, post)
			} else {
				older = true
			}
		}
		if older {
			c.logger.Info("reached older posts, last page", zap.Int("page", page), zap.Int64("target", target))
			break
		}
	}
	if len(wanted) == 0 {
		c.logger.Info("no posts newer than target", zap.Int64("target", target))
		return nil
	}
	return c.write(ctx, wanted, fmt.Sprintf("from %d to %d", wanted[0].ID, target))
}

// All crawls the whole catalog window by window until a window comes back
// empty. A window whose batch fails is logged and skipped.
func (c *Controller) All(ctx context.Context) error {
	defer c.setState(StateIdle)
	window := c.cfg.WindowPages
	for start := 0; ; start += window {
		end := start + window - 1
		posts, err := c.pageRange(ctx, start, end)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			c.logger.Info("empty window, crawl finished", zap.Int("page", start))
			return nil
		}
		if err := c.write(ctx, posts, fmt.Sprintf("pages: %d - %d", start, end)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("window not written", zap.Int("page", start), zap.Error(err))
		}
		c.setState(StateIdle)
		if err := c.sleep(ctx, c.cfg.WindowPause); err != nil {
			return err
		}
	}
}

// Loop repeats All until ctx ends. A failed cycle starts over from the
// newest page after the usual pause.
func (c *Controller) Loop(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		c.logger.Info("crawl cycle starting", zap.Int("cycle", cycle))
		if err := c.All(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("crawl cycle failed", zap.Int("cycle", cycle), zap.Error(err))
		}
		c.logger.Info("waiting for next cycle", zap.Duration("pause", c.cfg.LoopPause))
		if err := c.sleep(ctx, c.cfg.LoopPause); err != nil {
			return nil
		}
	}
}

func (c *Controller) page(ctx context.Context, page int) ([]booru.Post, error) {
	c.setState(StateFetching)
	posts, err := c.source.FetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	c.setState(StateEnriching)
	posts, err = c.enricher.EnrichPage(ctx, posts)
	if err != nil {
		return nil, errors.Wrapf(err, "enrich page %d", page)
	}
	return posts, nil
}

// pageRange fetches pages concurrently and concatenates them in page order.
func (c *Controller) pageRange(ctx context.Context, start, end int) ([]booru.Post, error) {
	c.logger.Info("fetching pages", zap.Int("from", start), zap.Int("to", end))
	results := make([][]booru.Post, end-start+1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		g.Go(func() error {
			posts, err := c.page(gctx, start+i)
			if err != nil {
				return err
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, posts := range results {
		total += len(posts)
	}
	out := make([]booru.Post, 0, total)
	for _, posts := range results {
		out = append(out, posts...)
	}
	return out, nil
}

func (c *Controller) write(ctx context.Context, posts []booru.Post, label string) error {
	c.setState(StateWriting)
	return c.writer.WriteBatch(ctx, posts, label)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
