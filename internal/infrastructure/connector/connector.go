package connector

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/juju/clock"
	"github.com/juju/ratelimit"
	"github.com/juju/retry"

	"github.com/bxtxh/seiji-watch-sub000/internal/config"
	"github.com/bxtxh/seiji-watch-sub000/internal/domain"
	"github.com/bxtxh/seiji-watch-sub000/internal/ports"
)

// Connector wraps one upstream fetcher with a blocking token bucket,
// retry with exponential backoff plus jitter, and a circuit breaker.
// Exhausted retries fail the single call only; the breaker decides when the
// whole connector stops issuing calls.
type Connector struct {
	fetcher ports.Fetcher
	cfg     config.ConnectorConfig
	bucket  *ratelimit.Bucket
	breaker *circuitBreaker
	clk     clock.Clock
	logger  *slog.Logger
}

var _ ports.Connector = (*Connector)(nil)

// bucketClock adapts juju/clock to the ratelimit clock so tests can drive
// the bucket with a testclock.
type bucketClock struct {
	clk clock.Clock
}

func (c bucketClock) Now() time.Time        { return c.clk.Now() }
func (c bucketClock) Sleep(d time.Duration) { <-c.clk.After(d) }

// New builds a connector around a raw fetcher.
func New(fetcher ports.Fetcher, cfg config.ConnectorConfig, clk clock.Clock, logger *slog.Logger) *Connector {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Connector{
		fetcher: fetcher,
		cfg:     cfg,
		bucket:  ratelimit.NewBucketWithRateAndClock(cfg.RequestsPerSecond, burst, bucketClock{clk}),
		breaker: newCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown, clk),
		clk:     clk,
		logger:  logger,
	}
}

// Name identifies the wrapped source.
func (c *Connector) Name() string { return c.fetcher.Name() }

// Fetch performs one rate-limited upstream call. It blocks until a bucket
// token is available, retries transient failures with backoff and jitter
// (honoring any upstream retry-after hint), and fails fast with
// domain.ErrCircuitOpen while the breaker is open.
func (c *Connector) Fetch(ctx context.Context, q domain.FetchQuery) (domain.FetchPage, error) {
	if err := c.breaker.Allow(); err != nil {
		return domain.FetchPage{}, err
	}

	if err := c.waitToken(ctx); err != nil {
		return domain.FetchPage{}, err
	}

	var page domain.FetchPage
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			p, err := c.fetcher.Fetch(ctx, q)
			if err == nil {
				page = p
				return nil
			}
			lastErr = err
			return err
		},
		IsFatalError: func(err error) bool {
			return domain.IsPermanent(err) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("upstream call failed",
				"source", c.fetcher.Name(), "attempt", attempt, "error", err)
		},
		Attempts:    c.cfg.MaxRetries,
		Delay:       c.cfg.BackoffBase,
		MaxDelay:    c.cfg.BackoffMax,
		BackoffFunc: func(delay time.Duration, attempt int) time.Duration {
			if hint, ok := domain.RetryAfterHint(lastErr); ok {
				return hint
			}
			return jitter(retry.DoubleDelay(delay, attempt))
		},
		Clock: c.clk,
		Stop:  ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		c.breaker.Failure()
		return domain.FetchPage{}, err
	}

	c.breaker.Success()
	return page, nil
}

func (c *Connector) waitToken(ctx context.Context) error {
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	select {
	case <-c.clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter spreads the backoff by up to 25% to keep retries from aligning.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
