package extend

import (
	"context"
	"time"

	"github.com/redilock/redilock/adapter"
)

// Default configuration constants for the auto-extension scheduler.
const (
	DefaultThresholdRatio        = 0.20
	DefaultSingleNodeBufferRatio = 0.10
	DefaultDistributedBufferRatio = 0.05
	DefaultMinExtensionInterval  = 100 * time.Millisecond
	DefaultSafetyBuffer          = 2000 * time.Millisecond
)

// RenewFunc performs one atomic-renewal attempt against the underlying
// lock (single-node or distributed); it returns true only if the renewal
// succeeded. Callers supply a closure that calls adapter.AtomicExtend
// (single-node) or fans it out across adapters and counts quorum
// (distributed) — the scheduler itself does not know which.
type RenewFunc func(ctx context.Context, minRemainingTTL, newTTL time.Duration) (bool, error)

// Config carries the scheduler's construction-time parameters.
type Config struct {
	// TTL is the lock's original lifetime; renewal resets to this TTL
	// each time.
	TTL time.Duration
	// ThresholdRatio is the fraction of TTL remaining at which renewal is
	// triggered. Defaults to DefaultThresholdRatio.
	ThresholdRatio float64
	// BufferRatio is the fraction of TTL used as the minimum acceptable
	// remaining lifetime supplied to the atomic-extend primitive. Callers
	// pass DefaultSingleNodeBufferRatio or DefaultDistributedBufferRatio
	// depending on lock strategy.
	BufferRatio float64
	// MinExtensionInterval bounds the scheduler's tick rate from below,
	// preventing tight retry loops. Defaults to DefaultMinExtensionInterval.
	MinExtensionInterval time.Duration
	// SafetyBuffer is the absolute minimum acceptable remaining TTL;
	// below this, extension is refused as unsafe. Defaults to
	// DefaultSafetyBuffer.
	SafetyBuffer time.Duration
	Logger       adapter.Logger
}

func (c Config) withDefaults() Config {
	if c.ThresholdRatio <= 0 {
		c.ThresholdRatio = DefaultThresholdRatio
	}
	if c.BufferRatio <= 0 {
		c.BufferRatio = DefaultSingleNodeBufferRatio
	}
	if c.MinExtensionInterval <= 0 {
		c.MinExtensionInterval = DefaultMinExtensionInterval
	}
	if c.SafetyBuffer <= 0 {
		c.SafetyBuffer = DefaultSafetyBuffer
	}
	if c.Logger == nil {
		c.Logger = adapter.NewNoopLogger()
	}
	return c
}

func (c Config) minRemainingTTL() time.Duration {
	buffer := time.Duration(float64(c.TTL) * c.BufferRatio)
	if buffer < c.SafetyBuffer {
		buffer = c.SafetyBuffer
	}
	return buffer
}

// Scheduler is a single-threaded cooperative timer per active scoped
// execution: it sleeps until the projected renewal instant, attempts
// renewal, then either reschedules or publishes failure on its Signal.
// Grounded on cronlock/internal/scheduler/job.go's renewLock ticker
// goroutine, generalized to threshold-ratio projection and atomic-extend
// feedback from the renew call.
type Scheduler struct {
	cfg    Config
	signal *Signal
	done   chan struct{}
	stop   chan struct{}
}

// NewScheduler constructs a Scheduler. TTL in cfg must be positive.
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		signal: NewSignal(),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Signal returns the cancellation signal the caller hands to its routine.
func (s *Scheduler) Signal() *Signal { return s.signal }

// Start begins the renewal loop in its own goroutine and returns
// immediately. The loop terminates when Stop is called, when the context
// is cancelled, or when a renewal attempt fails (in which case the Signal
// is aborted first).
func (s *Scheduler) Start(ctx context.Context, renew RenewFunc) {
	go s.run(ctx, renew)
}

// Stop terminates the renewal loop. Idempotent and safe to call even if
// the loop already terminated on its own.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
		// already stopped
	default:
		close(s.stop)
	}
	<-s.done
}

func (s *Scheduler) run(ctx context.Context, renew RenewFunc) {
	defer close(s.done)

	interval := time.Duration(float64(s.cfg.TTL) * (1 - s.cfg.ThresholdRatio))
	if interval < s.cfg.MinExtensionInterval {
		interval = s.cfg.MinExtensionInterval
	}

	for {
		timer := time.NewTimer(interval)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ok, err := renew(ctx, s.cfg.minRemainingTTL(), s.cfg.TTL)
		if err != nil {
			s.cfg.Logger.Warn("extend: renewal attempt errored", "error", err)
			s.signal.abort(err.Error())
			return
		}
		if !ok {
			s.cfg.Logger.Warn("extend: renewal refused, lock may be lost")
			s.signal.abort("renewal refused: lock no longer owned or ttl too low")
			return
		}
		s.cfg.Logger.Debug("extend: renewed lock", "interval", interval)
		// interval unchanged: renewal reset the TTL to cfg.TTL, so the
		// next threshold-ratio instant is the same distance away.
	}
}
