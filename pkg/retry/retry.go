// Package retry provides backoff retry logic (exponential or linear) for the framework
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"k8s.io/utils/clock"

	errs "github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff selects how the delay grows between attempts
type Backoff int

const (
	// Exponential multiplies the delay by Multiplier after every attempt
	Exponential Backoff = iota
	// Linear waits InitialDelay × attempt number
	Linear
)

// String returns the string representation of Backoff
func (b Backoff) String() string {
	switch b {
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	default:
		return "unknown"
	}
}

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts (the per-step delay for Linear)
	MaxDelay     time.Duration // Maximum delay between attempts (0 = uncapped for Linear)
	Multiplier   float64       // Backoff multiplier for Exponential (typically 2.0)
	Backoff      Backoff       // Exponential (default) or Linear
	AddJitter    bool          // Add randomness to prevent thundering herd

	// DelayFirst waits Delay(1) before the first attempt as well. Reconnect loops use
	// this: the connection was just lost, so attempt 1 is already a retry.
	DelayFirst bool

	// Clock drives the backoff timers; nil means the real clock.
	Clock clock.Clock

	// OnAttempt is called before each attempt with the 1-based attempt number.
	OnAttempt func(attempt int)
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// LinearConfig returns a linear backoff config: attempt n waits base × n.
func LinearConfig(maxAttempts int, base time.Duration) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: base,
		Backoff:      Linear,
		DelayFirst:   true,
	}
}

// Delay returns the wait that precedes the given 1-based retry attempt.
func (cfg Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch cfg.Backoff {
	case Linear:
		delay = cfg.InitialDelay * time.Duration(attempt)
	default:
		next := float64(cfg.InitialDelay)
		for i := 1; i < attempt; i++ {
			next *= cfg.Multiplier
			if cfg.MaxDelay > 0 && next > float64(cfg.MaxDelay) {
				break
			}
		}
		// Overflow protection
		if next > float64(time.Duration(1<<63-1)) {
			next = float64(cfg.MaxDelay)
		}
		delay = time.Duration(next)
	}

	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// normalize validates cfg and fills in defaults
func (cfg Config) normalize() (Config, error) {
	if cfg.InitialDelay < 0 {
		return cfg, errors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return cfg, errors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.Multiplier < 0 {
		return cfg, errors.New("retry: Multiplier cannot be negative")
	}
	// Prevent overflow with extremely large multipliers
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1 // At least try once
	}

	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Backoff == Exponential {
		if cfg.MaxDelay == 0 {
			cfg.MaxDelay = 5 * time.Second
		}
		if cfg.Multiplier == 0 {
			cfg.Multiplier = 2.0
		}
	}

	if cfg.MaxDelay > 0 && cfg.MaxDelay < cfg.InitialDelay {
		return cfg, errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return cfg, nil
}

// Do executes fn with backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 || cfg.DelayFirst {
			backoffAttempt := attempt - 1
			if cfg.DelayFirst {
				backoffAttempt = attempt
			}
			if err := sleep(ctx, cfg, cfg.Delay(backoffAttempt)); err != nil {
				return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt, err)
			}
		}

		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w: %w", cfg.MaxAttempts, errs.ErrMaxRetriesExceeded, lastErr)
}

// sleep waits for d on the configured clock, honouring ctx cancellation
func sleep(ctx context.Context, cfg Config, d time.Duration) error {
	if cfg.AddJitter && d >= 4 {
		// Add up to 25% jitter using thread-safe random
		randMu.Lock()
		d += time.Duration(randSource.Int63n(int64(d / 4)))
		randMu.Unlock()
	}

	timer := cfg.Clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Quick returns a config for fast retries (useful during startup)
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}
