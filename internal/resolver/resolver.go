// Package resolver classifies tags, consulting the cache before the remote.
package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
	"github.com/JakeFAU/booru-tag-crawler/internal/retry"
)

// Resolver maps a tag name to its type.
type Resolver struct {
	cache  booru.TagCache
	remote booru.Remote
	retry  *retry.Policy
	logger *zap.Logger
}

// New constructs a Resolver.
func New(cache booru.TagCache, remote booru.Remote, policy *retry.Policy, logger *zap.Logger) (*Resolver, error) {
	if cache == nil {
		return nil, errors.New("tag cache is required")
	}
	if remote == nil {
		return nil, errors.New("remote is required")
	}
	if policy == nil {
		return nil, errors.New("retry policy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cache: cache, remote: remote, retry: policy, logger: logger.Named("resolver")}, nil
}

// Resolve returns the type of name. Known tags never touch the remote. Every
// record the remote search returns is learned, and a tag the search does not
// name exactly is learned as general.
func (r *Resolver) Resolve(ctx context.Context, name string) (booru.Tag, error) {
	tag, err := r.resolve(ctx, name)
	if err != nil {
		metrics.ObserveTagResolution(metrics.SourceError)
	}
	return tag, err
}

func (r *Resolver) resolve(ctx context.Context, name string) (booru.Tag, error) {
	if tag, ok, err := r.cache.Lookup(ctx, name); err != nil {
		return booru.Tag{}, errors.Wrap(err, "cache lookup")
	} else if ok {
		metrics.ObserveTagResolution(metrics.SourceCache)
		return tag, nil
	}

	records, err := retry.Do(ctx, r.retry, "search_tags", func(ctx context.Context) ([]booru.Tag, error) {
		return r.remote.SearchTags(ctx, name)
	})
	if err != nil {
		return booru.Tag{}, errors.Wrapf(err, "search tag %q", name)
	}

	var (
		match booru.Tag
		found bool
	)
	for _, rec := range records {
		if _, err := r.cache.InsertIfAbsent(ctx, rec.Name, rec.Type); err != nil {
			return booru.Tag{}, errors.Wrap(err, "learn tag")
		}
		if !found && rec.Name == name {
			match, found = rec, true
		}
	}
	if found {
		r.logger.Debug("tag resolved", zap.String("tag", name), zap.Stringer("type", match.Type), zap.Int("learned", len(records)))
		metrics.ObserveTagResolution(metrics.SourceRemote)
		return match, nil
	}

	fallback := booru.Tag{Name: name, Type: booru.TagTypeGeneral}
	if _, err := r.cache.InsertIfAbsent(ctx, name, fallback.Type); err != nil {
		return booru.Tag{}, errors.Wrap(err, "learn fallback tag")
	}
	r.logger.Debug("tag not found, defaulting to general", zap.String("tag", name), zap.Int("candidates", len(records)))
	metrics.ObserveTagResolution(metrics.SourceFallback)
	return fallback, nil
}
