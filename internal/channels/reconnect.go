package channels

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/cmdrelay/internal/retry"
)

// ReconnectConfig controls reconnection behavior.
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultReconnectConfig returns a baseline reconnection config.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2,
		Jitter:       true,
	}
}

// Reconnector runs a connect function until it succeeds.
type Reconnector struct {
	Config  ReconnectConfig
	Logger  *slog.Logger
	Metrics *Metrics
}

// Run calls connect until it succeeds, returns a permanent error (see
// retry.Permanent), the attempts run out or ctx is done. It returns the
// last error.
func (r *Reconnector) Run(ctx context.Context, connect func(context.Context) error) error {
	if connect == nil {
		return errors.New("reconnector: connect func is nil")
	}

	defaults := DefaultReconnectConfig()
	cfg := r.Config
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Factor <= 0 {
		cfg.Factor = defaults.Factor
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy := retry.Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Factor:       cfg.Factor,
		Jitter:       cfg.Jitter,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			if r.Metrics != nil {
				r.Metrics.RecordReconnectAttempt()
			}
			logger.Warn("connection attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"backoff_ms", delay.Milliseconds(),
				"error", err)
		},
	}

	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		logger.Info("connecting", "attempt", attempt, "max_attempts", cfg.MaxAttempts)
		err := connect(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return retry.Permanent(err)
		}
		return err
	})
}
