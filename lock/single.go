package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/extend"
	"github.com/redilock/redilock/metrics"
)

// SingleConfig carries the construction-time parameters for a Single lock,
// with defaults matching the package's standard configuration.
type SingleConfig struct {
	Key           string
	TTL           time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        adapter.Logger
	Metrics       metrics.Collector
}

func (c SingleConfig) withDefaults() SingleConfig {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = adapter.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NoopCollector{}
	}
	return c
}

func (c SingleConfig) validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrConfiguration)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrConfiguration)
	}
	return nil
}

// Single is the single-node lock: acquire/release/extend against one
// adapter with retry and handle minting, the fast path for the common
// case. Grounded on cronlock/internal/lock/redis.go's Acquire/Release/
// Extend, generalized to a handle-returning, retrying shape.
type Single struct {
	adapter adapter.Adapter
	cfg     SingleConfig
}

// NewSingle constructs a Single lock. Returns ErrConfiguration if cfg is
// invalid.
func NewSingle(a adapter.Adapter, cfg SingleConfig) (*Single, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Single{adapter: a, cfg: cfg}, nil
}

// Acquire mints a fresh fencing token and attempts to set it. On
// contention it retries up to cfg.RetryAttempts additional times, waiting
// cfg.RetryDelay between attempts. Transport errors count as attempts and
// feed the retry loop. On exhaustion it fails with *ErrLockUnavailable.
func (s *Single) Acquire(ctx context.Context) (LockHandle, error) {
	start := time.Now()
	var lastErr error

	maxAttempts := 1 + s.cfg.RetryAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := newToken()
		if err != nil {
			return LockHandle{}, err
		}

		ok, err := s.adapter.SetIfAbsent(ctx, s.cfg.Key, value, s.cfg.TTL)
		if err != nil {
			lastErr = err
			s.cfg.Logger.Warn("lock: acquire attempt failed", "key", s.cfg.Key, "attempt", attempt, "error", err)
			s.cfg.Metrics.AcquireAttempt("single", "error")
		} else if ok {
			s.cfg.Metrics.AcquireAttempt("single", "success")
			s.cfg.Metrics.AcquireDuration("single", time.Since(start))
			return LockHandle{
				ID:         value,
				Key:        s.cfg.Key,
				Value:      value,
				AcquiredAt: time.Now(),
				TTL:        s.cfg.TTL,
				Metadata: HandleMetadata{
					Attempts:            attempt,
					AcquisitionDuration: time.Since(start),
					Strategy:            StrategySingle,
				},
			}, nil
		} else {
			lastErr = nil
			s.cfg.Metrics.AcquireAttempt("single", "contended")
		}

		if attempt < maxAttempts {
			if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
				return LockHandle{}, err
			}
		}
	}

	s.cfg.Metrics.AcquireDuration("single", time.Since(start))
	return LockHandle{}, &ErrLockUnavailable{Attempts: maxAttempts, LastCause: lastErr}
}

// Release validates the handle and deletes the key only if its value
// still matches.
func (s *Single) Release(ctx context.Context, h LockHandle) (bool, error) {
	if err := validateHandle(h, s.cfg.Key); err != nil {
		return false, err
	}
	ok, err := s.adapter.DeleteIfMatch(ctx, h.Key, h.Value)
	if err != nil {
		return false, &ErrLockRelease{Cause: err}
	}
	return ok, nil
}

// Extend validates the handle and TTL, then resets the TTL only if the
// stored value still matches.
func (s *Single) Extend(ctx context.Context, h LockHandle, newTTL time.Duration) (bool, error) {
	if err := validateHandle(h, s.cfg.Key); err != nil {
		return false, err
	}
	if newTTL <= 0 {
		return false, fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}
	ok, err := s.adapter.ExtendIfMatch(ctx, h.Key, h.Value, newTTL)
	if err != nil {
		return false, &ErrLockExtension{Cause: err}
	}
	return ok, nil
}

// IsLocked reports whether key is currently held. Transport errors report
// false rather than propagating.
func (s *Single) IsLocked(ctx context.Context, key string) bool {
	_, ok, err := s.adapter.Get(ctx, key)
	if err != nil {
		return false
	}
	return ok
}

// Key returns the lock's configured key.
func (s *Single) Key() string { return s.cfg.Key }

// TTL returns the lock's configured TTL.
func (s *Single) TTL() time.Duration { return s.cfg.TTL }

// Adapter returns the underlying adapter.
func (s *Single) Adapter() adapter.Adapter { return s.adapter }

// BufferRatio returns the fraction of TTL the auto-extension scheduler
// should hold back as a single-node safety margin.
func (s *Single) BufferRatio() float64 { return extend.DefaultSingleNodeBufferRatio }

// RenewFunc returns an extend.RenewFunc that renews h via the adapter's
// atomic-extend-with-feedback primitive, for use by the scoped executor.
func (s *Single) RenewFunc(h LockHandle) extend.RenewFunc {
	return func(ctx context.Context, minRemainingTTL, newTTL time.Duration) (bool, error) {
		res, err := s.adapter.AtomicExtend(ctx, h.Key, h.Value, minRemainingTTL, newTTL)
		if err != nil {
			s.cfg.Metrics.RenewalOutcome("single", "error")
			return false, err
		}
		if res.ResultCode != adapter.ExtendSuccess {
			s.cfg.Metrics.RenewalOutcome("single", "refused")
			return false, nil
		}
		s.cfg.Metrics.RenewalOutcome("single", "success")
		return true, nil
	}
}

// sleepCtx sleeps for d, returning ctx.Err() if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
