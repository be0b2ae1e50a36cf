package llm

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	// Timeout bounds each individual attempt. Zero leaves the caller's
	// deadline as the only limit.
	Timeout time.Duration
}

type retrying struct {
	next   Client
	cfg    RetryConfig
	logger zerolog.Logger
}

// WithRetry wraps c so that failed calls are retried with backoff. Context
// cancellation and empty responses are not retried.
func WithRetry(c Client, cfg RetryConfig, logger zerolog.Logger) Client {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	return &retrying{next: c, cfg: cfg, logger: logger}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	var out string
	err := retry.Do(
		func() error {
			callCtx := ctx
			if r.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
				defer cancel()
			}
			s, err := r.next.Generate(callCtx, req)
			if err != nil {
				return err
			}
			out = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrEmptyResponse)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().Err(err).Str("model", r.next.Name()).Uint("attempt", n+1).Msg("model call failed, retrying")
		}),
	)
	if err != nil {
		return "", err
	}
	return out, nil
}
