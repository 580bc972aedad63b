package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// RetryConfig bounds the publish retry loop.
type RetryConfig struct {
	Attempts       int
	Delay          time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Clock          clock.Clock
}

// RetryingPublisher retries transient publish failures with doubling
// backoff. It gives up when attempts are exhausted, the context ends or
// the log is closed.
type RetryingPublisher struct {
	next    Publisher
	cfg     RetryConfig
	log     *slog.Logger
	onRetry func(topic string, attempt int, err error)
}

func NewRetryingPublisher(next Publisher, cfg RetryConfig, log *slog.Logger) *RetryingPublisher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &RetryingPublisher{next: next, cfg: cfg, log: log}
}

// OnRetry registers a hook called after every failed attempt.
func (p *RetryingPublisher) OnRetry(fn func(topic string, attempt int, err error)) *RetryingPublisher {
	p.onRetry = fn
	return p
}

func (p *RetryingPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attemptCtx := ctx
			if p.cfg.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
				defer cancel()
			}
			return p.next.Publish(attemptCtx, topic, key, value)
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || errors.Is(err, ErrClosed) || errors.Is(err, ErrUnknownTopic)
		},
		NotifyFunc: func(err error, attempt int) {
			p.log.Warn("Publish attempt failed", "topic", topic, "key", key, "attempt", attempt, "error", err)
			if p.onRetry != nil {
				p.onRetry(topic, attempt, err)
			}
		},
		Attempts:    p.cfg.Attempts,
		Delay:       p.cfg.Delay,
		MaxDelay:    p.cfg.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.cfg.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		if last := retry.LastError(err); last != nil {
			err = last
		}
	}
	return fmt.Errorf("publish to %s failed: %w", topic, err)
}
