package booru

import (
	"context"
	"time"
)

// PostRecord is one catalog entry as returned by the remote post listing.
type PostRecord struct {
	ID        int64
	Tags      string
	CreatedAt time.Time
	MD5       string
	FileURL   string
	Author    string
}

// Remote is the catalog API transport.
type Remote interface {
	ListPosts(ctx context.Context, page, limit int) ([]PostRecord, error)
	// SearchTags performs the fuzzy tag search; records other than name may come back.
	SearchTags(ctx context.Context, name string) ([]Tag, error)
}

// TagCache is the persistent tag -> type store.
type TagCache interface {
	Lookup(ctx context.Context, name string) (Tag, bool, error)
	// InsertIfAbsent reports false, with no error, when the tag is already known.
	InsertIfAbsent(ctx context.Context, name string, kind TagType) (bool, error)
	Flush(ctx context.Context) error
	Counts(ctx context.Context) (map[TagType]int, error)
	Close() error
}

// Sink receives hash -> tags mappings in all-or-nothing batches.
type Sink interface {
	BeginBatch(ctx context.Context) error
	AddMapping(ctx context.Context, hash []byte, tags []string) error
	CommitBatch(ctx context.Context) error
}

// Aborter is implemented by sinks that hold resources for an open batch.
type Aborter interface {
	Abort(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
