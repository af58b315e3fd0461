// Package fetcher turns catalog listing pages into posts carrying their
// synthesized tags.
package fetcher

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
	"github.com/JakeFAU/booru-tag-crawler/internal/retry"
)

// DefaultPageSize is the listing page size the catalog serves at most.
const DefaultPageSize = 200

// Config holds the page size and the synthesized tag templates.
type Config struct {
	PageSize int
	// DomainTag and SourceTag are added verbatim; empty values are skipped.
	DomainTag  string
	SourceTag  string
	HashPrefix string
	IDPrefix   string
}

// DefaultConfig returns the hypnohub defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:   DefaultPageSize,
		DomainTag:  "hypnosis",
		SourceTag:  "booru:hypnohub",
		HashPrefix: "hash:",
		IDPrefix:   "id:",
	}
}

// PageFetcher loads one listing page at a time.
type PageFetcher struct {
	remote booru.Remote
	retry  *retry.Policy
	cfg    Config
	logger *zap.Logger
}

// New constructs a PageFetcher.
func New(remote booru.Remote, policy *retry.Policy, cfg Config, logger *zap.Logger) (*PageFetcher, error) {
	if remote == nil {
		return nil, errors.New("remote is required")
	}
	if policy == nil {
		return nil, errors.New("retry policy is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{remote: remote, retry: policy, cfg: cfg, logger: logger.Named("fetcher")}, nil
}

// FetchPage returns the posts on page, newest first. An empty slice means the
// catalog has no more pages.
func (f *PageFetcher) FetchPage(ctx context.Context, page int) ([]booru.Post, error) {
	start := time.Now()
	records, err := retry.Do(ctx, f.retry, "list_posts", func(ctx context.Context) ([]booru.PostRecord, error) {
		return f.remote.ListPosts(ctx, page, f.cfg.PageSize)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch page %d", page)
	}

	posts := make([]booru.Post, 0, len(records))
	for _, rec := range records {
		post := booru.NewPost(rec.ID, rec.MD5, rec.Tags, rec.CreatedAt, rec.FileURL, rec.Author)
		f.synthesize(&post)
		posts = append(posts, post)
	}
	metrics.ObservePage(len(posts))
	f.logger.Info("page fetched",
		zap.Int("page", page),
		zap.Int("posts", len(posts)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return posts, nil
}

func (f *PageFetcher) synthesize(post *booru.Post) {
	if f.cfg.DomainTag != "" {
		post.AddTag(f.cfg.DomainTag)
	}
	if f.cfg.SourceTag != "" {
		post.AddTag(f.cfg.SourceTag)
	}
	post.AddTag(f.cfg.HashPrefix + post.MD5)
	post.AddTag(f.cfg.IDPrefix + strconv.FormatInt(post.ID, 10))
}
