package archive

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
	"github.com/JakeFAU/booru-tag-crawler/internal/clock/system"
	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
)

// Writer delivers a batch of posts to a sink, all or nothing.
type Writer struct {
	sink   booru.Sink
	clock  booru.Clock
	logger *zap.Logger
}

// NewWriter constructs a Writer. A nil clock uses the wall clock.
func NewWriter(sink booru.Sink, clock booru.Clock, logger *zap.Logger) (*Writer, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sink: sink, clock: clock, logger: logger.Named("writer")}, nil
}

// WriteBatch writes every post's tags keyed by its decoded MD5. On any failure
// the batch is abandoned and nothing is committed.
func (w *Writer) WriteBatch(ctx context.Context, posts []booru.Post, label string) error {
	start := w.clock.Now()
	if err := w.write(ctx, posts); err != nil {
		elapsed := w.clock.Now().Sub(start)
		metrics.ObserveBatch(metrics.BatchAbandoned, elapsed)
		w.abort(ctx, label)
		w.logger.Error("batch abandoned",
			zap.String("batch", label),
			zap.Int("posts", len(posts)),
			zap.Error(err),
		)
		return errors.Wrapf(err, "write batch %q", label)
	}

	elapsed := w.clock.Now().Sub(start)
	metrics.ObserveBatch(metrics.BatchCommitted, elapsed)
	w.logger.Info("batch committed",
		zap.String("batch", label),
		zap.Int("posts", len(posts)),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	return nil
}

func (w *Writer) write(ctx context.Context, posts []booru.Post) error {
	if err := w.sink.BeginBatch(ctx); err != nil {
		return errors.Wrap(err, "begin")
	}
	for i := range posts {
		hash, err := hex.DecodeString(posts[i].MD5)
		if err != nil {
			return errors.Wrapf(err, "decode md5 of post %d", posts[i].ID)
		}
		if err := w.sink.AddMapping(ctx, hash, posts[i].Tags); err != nil {
			return errors.Wrapf(err, "add post %d", posts[i].ID)
		}
	}
	if err := w.sink.CommitBatch(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (w *Writer) abort(ctx context.Context, label string) {
	aborter, ok := w.sink.(booru.Aborter)
	if !ok {
		return
	}
	// The caller's context may already be done; the rollback still has to run.
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := aborter.Abort(abortCtx); err != nil {
		w.logger.Warn("abort batch", zap.String("batch", label), zap.Error(err))
	}
}
