// Package batch implements all-or-nothing multi-key lock acquisition:
// sorted-key ordering to prevent cross-caller cycles, a single atomic
// batch-set-if-absent round trip, and distinct fencing tokens per key
// so each handle is independently releasable. Grounded on
// cronlock/internal/lock/redis.go's Acquire for the
// fencing-token-per-key idiom, generalized to the batch primitive
// adapter.BatchSetIfAbsent exposes.
package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/extend"
	"github.com/redilock/redilock/lock"
)

// Config carries the construction-time parameters for a Manager.
type Config struct {
	TTL    time.Duration
	Logger adapter.Logger
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = adapter.NewNoopLogger()
	}
	return c
}

// Manager acquires and releases sets of keys atomically against a single
// adapter.
type Manager struct {
	adapter adapter.Adapter
	cfg     Config
}

// NewManager constructs a Manager over adapter a.
func NewManager(a adapter.Adapter, cfg Config) *Manager {
	return &Manager{adapter: a, cfg: cfg.withDefaults()}
}

// Acquire sorts keys ascending (so two overlapping batch requests always
// contend for the same lock first, preventing deadlock cycles), mints a
// distinct fencing token per key, and issues one atomic
// BatchSetIfAbsent. On success it returns one LockHandle per input key,
// in the caller's original order. On failure it returns
// *lock.ErrLockUnavailable naming the key that was already held.
func (m *Manager) Acquire(ctx context.Context, keys []string) ([]lock.LockHandle, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: keys must not be empty", lock.ErrValidation)
	}

	order := sortedIndices(keys)
	sortedKeys := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, idx := range order {
		sortedKeys[i] = keys[idx]
	}
	for i := range sortedKeys {
		v, err := lock.NewFencingToken()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	start := time.Now()
	res, err := m.adapter.BatchSetIfAbsent(ctx, sortedKeys, values, m.cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("batch: acquire: %w", err)
	}
	if !res.Success {
		return nil, &lock.ErrLockUnavailable{
			Attempts:  1,
			LastCause: fmt.Errorf("key %q already held (batch position %d)", res.FailedKey, res.FailedIndex),
		}
	}

	acquiredAt := time.Now()
	duration := acquiredAt.Sub(start)
	handles := make([]lock.LockHandle, len(keys))
	for i, idx := range order {
		handles[idx] = lock.LockHandle{
			ID:         values[i],
			Key:        sortedKeys[i],
			Value:      values[i],
			AcquiredAt: acquiredAt,
			TTL:        m.cfg.TTL,
			Metadata: lock.HandleMetadata{
				Attempts:            1,
				AcquisitionDuration: duration,
				Strategy:            lock.StrategyBatch,
			},
		}
	}
	return handles, nil
}

// Release issues a best-effort DeleteIfMatch for every handle. Releases
// run sequentially, not concurrently: partial release of an
// all-or-nothing acquisition is already a degraded state, and
// sequential release keeps the failure accounting simple. It returns
// true only if every handle released successfully.
func (m *Manager) Release(ctx context.Context, handles []lock.LockHandle) (bool, error) {
	allOK := true
	var firstErr error
	for _, h := range handles {
		ok, err := m.adapter.DeleteIfMatch(ctx, h.Key, h.Value)
		if err != nil {
			m.cfg.Logger.Warn("batch: release failed", "key", h.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			allOK = false
			continue
		}
		if !ok {
			allOK = false
		}
	}
	if firstErr != nil {
		return false, &lock.ErrLockRelease{Cause: firstErr}
	}
	return allOK, nil
}

// RenewFunc returns an extend.RenewFunc that renews every handle via
// atomic-extend-with-feedback, aborting if any single handle's renewal
// fails. Manager.Using drives its extend.Scheduler with it, the same way
// exec.Using does with a single lock's RenewFunc.
func (m *Manager) RenewFunc(handles []lock.LockHandle) extend.RenewFunc {
	return func(ctx context.Context, minRemainingTTL, newTTL time.Duration) (bool, error) {
		for _, h := range handles {
			res, err := m.adapter.AtomicExtend(ctx, h.Key, h.Value, minRemainingTTL, newTTL)
			if err != nil {
				return false, err
			}
			if res.ResultCode != adapter.ExtendSuccess {
				return false, nil
			}
		}
		return true, nil
	}
}

// TTL returns the manager's configured TTL, for use by the extend
// scheduler.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// BufferRatio returns the safety margin the auto-extension scheduler
// should hold back; batch acquisitions use the single-node margin since
// they run against one adapter.
func (m *Manager) BufferRatio() float64 { return extend.DefaultSingleNodeBufferRatio }

// Routine is the user-supplied work run while every key in a batch is
// held.
type Routine func(ctx context.Context, signal *extend.Signal) error

// Using acquires all of keys atomically, starts an auto-extension
// scheduler that renews every handle on each tick, runs routine, and
// releases every handle on return. It mirrors exec.Using's shape but
// operates on a whole batch instead of one lock.Renewer, since an
// all-or-nothing acquisition does not reduce to a single LockHandle.
func (m *Manager) Using(ctx context.Context, keys []string, routine Routine, logger adapter.Logger) error {
	if logger == nil {
		logger = adapter.NewNoopLogger()
	}

	handles, err := m.Acquire(ctx, keys)
	if err != nil {
		return fmt.Errorf("batch: acquire: %w", err)
	}

	sched := extend.NewScheduler(extend.Config{
		TTL:         m.TTL(),
		BufferRatio: m.BufferRatio(),
		Logger:      logger,
	})
	sched.Start(ctx, m.RenewFunc(handles))

	var routineErr error
	var releaseOK bool
	var releaseErr error
	func() {
		defer func() {
			sched.Stop()
			releaseOK, releaseErr = m.Release(ctx, handles)
		}()
		routineErr = routine(ctx, sched.Signal())
	}()

	if releaseErr != nil || !releaseOK {
		if routineErr != nil {
			logger.Warn("batch: release incomplete after routine error, routine error takes priority", "release_error", releaseErr, "routine_error", routineErr)
		} else if releaseErr != nil {
			return fmt.Errorf("batch: release: %w", releaseErr)
		} else {
			return fmt.Errorf("batch: release: one or more keys did not release cleanly")
		}
	}

	return routineErr
}

// sortedIndices returns the permutation of 0..len(keys)-1 that sorts
// keys ascending.
func sortedIndices(keys []string) []int {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	return idx
}
