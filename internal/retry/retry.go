// Package retry wraps remote calls with jittered, uncapped retry on transient failure.
package retry

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/metrics"
)

// ErrTransient marks errors that are worth retrying.
var ErrTransient = errors.New("transient failure")

// ErrAttemptsExhausted is returned when a configured attempt cap runs out.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// delayStep is the resolution of the jittered delay (hundredths of a second).
const delayStep = 10 * time.Millisecond

// MarkTransient tags err as transient. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransient)
}

// IsTransient reports whether err was marked transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Config controls the delay window and the optional attempt cap.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxAttempts caps total attempts; zero retries forever.
	MaxAttempts int
}

// Policy retries transient failures after a uniformly drawn delay.
type Policy struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	maxAttempts int
	logger      *zap.Logger

	// jitter returns a value in [0, n); swapped in tests.
	jitter func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the 0.5s-2.5s uncapped window.
func DefaultConfig() Config {
	return Config{
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 2500 * time.Millisecond,
	}
}

// NewPolicy builds a Policy. A zero window retries immediately.
func NewPolicy(cfg Config, logger *zap.Logger) (*Policy, error) {
	if cfg.MinDelay < 0 || cfg.MaxDelay < cfg.MinDelay {
		return nil, errors.Newf("invalid retry window [%s, %s]", cfg.MinDelay, cfg.MaxDelay)
	}
	if cfg.MaxAttempts < 0 {
		return nil, errors.Newf("retry max attempts must be >= 0, got %d", cfg.MaxAttempts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
		jitter:      cryptoJitter,
		sleep:       sleepContext,
	}, nil
}

// Delay draws the next wait from [MinDelay, MaxDelay] in 10ms steps.
func (p *Policy) Delay() time.Duration {
	steps := int64((p.maxDelay - p.minDelay) / delayStep)
	if steps <= 0 {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.jitter(steps+1))*delayStep
}

// Do runs fn until it succeeds, fails with a non-transient error, the context
// ends, or the optional attempt cap is reached.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		if p.maxAttempts > 0 && attempt >= p.maxAttempts {
			return zero, errors.Wrapf(errors.Mark(err, ErrAttemptsExhausted), "%s: gave up after %d attempts", op, attempt)
		}

		delay := p.Delay()
		p.logger.Info("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.ObserveRetry(op)

		if err := p.sleep(ctx, delay); err != nil {
			return zero, errors.Wrapf(err, "%s: retry wait", op)
		}
	}
}

func cryptoJitter(n int64) int64 {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return v.Int64()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
