package lock

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/extend"
	"github.com/redilock/redilock/internal/clock"
	"github.com/redilock/redilock/metrics"
)

// RedlockConfig carries the construction-time parameters for a quorum
// lock, with defaults matching the package's standard configuration.
type RedlockConfig struct {
	Key             string
	TTL             time.Duration
	Quorum          int // 0 means floor(N/2)+1
	RetryAttempts   int
	RetryDelay      time.Duration
	ClockDriftFactor float64
	Logger          adapter.Logger
	Clock           clock.Clock
	Metrics         metrics.Collector
}

func (c RedlockConfig) withDefaults(n int) RedlockConfig {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Quorum <= 0 {
		c.Quorum = n/2 + 1
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.ClockDriftFactor == 0 {
		c.ClockDriftFactor = 0.01
	}
	if c.Logger == nil {
		c.Logger = adapter.NewNoopLogger()
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NoopCollector{}
	}
	return c
}

func (c RedlockConfig) validate(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: at least one adapter is required", ErrConfiguration)
	}
	if c.Key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrConfiguration)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrConfiguration)
	}
	if c.Quorum < 1 || c.Quorum > n {
		return fmt.Errorf("%w: quorum %d out of range [1, %d]", ErrConfiguration, c.Quorum, n)
	}
	if c.ClockDriftFactor < 0 || c.ClockDriftFactor >= 1 {
		return fmt.Errorf("%w: clock drift factor %v out of range [0, 1)", ErrConfiguration, c.ClockDriftFactor)
	}
	return nil
}

// Redlock implements the Redlock quorum algorithm across N independent
// adapters: concurrent fan-out, success counting, drift-adjusted validity
// check, and best-effort cleanup of partial acquisitions. Grounded on
// other_examples/jonesrussell-north-cloud redlock.go (drift/validity
// formula, best-effort unlock) and other_examples/VarthanV-redlock-go
// red_lock.go (goroutine fan-out shape), generalized to the
// await-all-N semantics.
type Redlock struct {
	adapters []adapter.Adapter
	cfg      RedlockConfig
}

// NewRedlock constructs a Redlock over adapters. Returns ErrConfiguration
// if cfg is invalid or adapters is empty.
func NewRedlock(adapters []adapter.Adapter, cfg RedlockConfig) (*Redlock, error) {
	n := len(adapters)
	cfg = cfg.withDefaults(n)
	if err := cfg.validate(n); err != nil {
		return nil, err
	}
	return &Redlock{adapters: adapters, cfg: cfg}, nil
}

// Quorum returns the configured quorum size.
func (r *Redlock) Quorum() int { return r.cfg.Quorum }

// Key returns the lock's configured key.
func (r *Redlock) Key() string { return r.cfg.Key }

// TTL returns the lock's configured TTL.
func (r *Redlock) TTL() time.Duration { return r.cfg.TTL }

// Adapters returns the underlying adapters.
func (r *Redlock) Adapters() []adapter.Adapter { return r.adapters }

func (r *Redlock) drift() time.Duration {
	d := time.Duration(float64(r.cfg.TTL) * r.cfg.ClockDriftFactor)
	return d + 2*time.Millisecond
}

// Acquire runs the Redlock protocol: fan out
// SetIfAbsent to all N adapters concurrently, count successes, and accept
// the acquisition only if at least Quorum nodes succeeded and the
// validity window (ttl - elapsed - drift) is still positive. On failure
// it issues best-effort cleanup to the nodes that did succeed, then
// retries.
func (r *Redlock) Acquire(ctx context.Context) (LockHandle, error) {
	callStart := time.Now()
	var lastErr error
	maxAttempts := 1 + r.cfg.RetryAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := newToken()
		if err != nil {
			return LockHandle{}, err
		}

		start := r.cfg.Clock.Now()
		successNodes := r.fanOutSetIfAbsent(ctx, value)
		elapsed := r.cfg.Clock.Now().Sub(start)
		drift := r.drift()
		validity := r.cfg.TTL - elapsed - drift

		if len(successNodes) >= r.cfg.Quorum && validity > 0 {
			r.cfg.Metrics.AcquireAttempt("redlock", "success")
			r.cfg.Metrics.AcquireDuration("redlock", time.Since(callStart))
			r.cfg.Metrics.QuorumAchieved(len(successNodes))
			return LockHandle{
				ID:         value,
				Key:        r.cfg.Key,
				Value:      value,
				AcquiredAt: time.Now(),
				TTL:        r.cfg.TTL,
				Metadata: HandleMetadata{
					Attempts:            attempt,
					AcquisitionDuration: time.Since(callStart),
					Nodes:               successNodes,
					Strategy:            StrategyRedlock,
				},
			}, nil
		}

		if len(successNodes) < r.cfg.Quorum {
			lastErr = fmt.Errorf("quorum not reached: %d/%d nodes (need %d)", len(successNodes), len(r.adapters), r.cfg.Quorum)
			r.cfg.Metrics.AcquireAttempt("redlock", "contended")
		} else {
			lastErr = fmt.Errorf("validity window exhausted: elapsed=%v drift=%v ttl=%v", elapsed, drift, r.cfg.TTL)
			r.cfg.Metrics.AcquireAttempt("redlock", "error")
		}

		r.cleanupAsync(successNodes, value)

		if attempt < maxAttempts {
			if err := sleepCtx(ctx, r.cfg.RetryDelay); err != nil {
				return LockHandle{}, err
			}
		}
	}

	r.cfg.Metrics.AcquireDuration("redlock", time.Since(callStart))
	return LockHandle{}, &ErrLockUnavailable{Attempts: maxAttempts, LastCause: lastErr}
}

// fanOutSetIfAbsent issues SetIfAbsent to every adapter concurrently and
// returns the indices of adapters that accepted the lock. It waits for
// every adapter's own per-call timeout rather than racing only the first
// Quorum responses, so partial-success cleanup is always possible.
func (r *Redlock) fanOutSetIfAbsent(ctx context.Context, value string) []int {
	type outcome struct {
		idx int
		ok  bool
	}
	results := make([]outcome, len(r.adapters))
	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			ok, err := a.SetIfAbsent(ctx, r.cfg.Key, value, r.cfg.TTL)
			if err != nil {
				r.cfg.Logger.Warn("redlock: setIfAbsent failed on node", "node", i, "error", err)
				ok = false
			}
			results[i] = outcome{idx: i, ok: ok}
		}(i, a)
	}
	wg.Wait()

	var success []int
	for _, r := range results {
		if r.ok {
			success = append(success, r.idx)
		}
	}
	return success
}

// cleanupAsync issues best-effort DeleteIfMatch to every node in nodes,
// ignoring per-node errors, without blocking the caller's retry loop.
func (r *Redlock) cleanupAsync(nodes []int, value string) {
	for _, idx := range nodes {
		go func(idx int) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := r.adapters[idx].DeleteIfMatch(ctx, r.cfg.Key, value); err != nil {
				r.cfg.Logger.Warn("redlock: best-effort cleanup failed", "node", idx, "error", err)
			}
		}(idx)
	}
}

// Release fans out DeleteIfMatch to all N adapters concurrently.
// Release is considered successful iff at least Quorum nodes reported
// true; transport errors on minority nodes are swallowed.
func (r *Redlock) Release(ctx context.Context, h LockHandle) (bool, error) {
	if err := validateHandle(h, r.cfg.Key); err != nil {
		return false, err
	}

	var wg sync.WaitGroup
	successCount := make([]bool, len(r.adapters))
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			ok, err := a.DeleteIfMatch(ctx, h.Key, h.Value)
			if err != nil {
				r.cfg.Logger.Warn("redlock: release failed on node", "node", i, "error", err)
				return
			}
			successCount[i] = ok
		}(i, a)
	}
	wg.Wait()

	n := 0
	for _, ok := range successCount {
		if ok {
			n++
		}
	}
	return n >= r.cfg.Quorum, nil
}

// Extend first fans out Get to count nodes whose value still matches
// (using a constant-time comparison); if fewer than Quorum match, it
// returns false without mutating any node. Otherwise it fans out
// ExtendIfMatch and returns true iff at least Quorum nodes report
// success.
//
// Open question: if the value-agreement check passes but the
// subsequent per-node extend falls below quorum, the result is a
// weakly-owned lock — some nodes extended, some did not, some may have
// expired. This implementation reports false in that case but does not
// attempt to roll back the nodes that did extend; silent rollback could
// itself introduce inconsistency, so no rollback is attempted.
func (r *Redlock) Extend(ctx context.Context, h LockHandle, newTTL time.Duration) (bool, error) {
	if err := validateHandle(h, r.cfg.Key); err != nil {
		return false, err
	}
	if newTTL <= 0 {
		return false, fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}

	var wg sync.WaitGroup
	matches := make([]bool, len(r.adapters))
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			val, ok, err := a.Get(ctx, h.Key)
			if err != nil || !ok {
				return
			}
			matches[i] = constantTimeEqual(val, h.Value)
		}(i, a)
	}
	wg.Wait()

	matchCount := 0
	for _, m := range matches {
		if m {
			matchCount++
		}
	}
	if matchCount < r.cfg.Quorum {
		return false, nil
	}

	var wg2 sync.WaitGroup
	extended := make([]bool, len(r.adapters))
	for i, a := range r.adapters {
		wg2.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg2.Done()
			ok, err := a.ExtendIfMatch(ctx, h.Key, h.Value, newTTL)
			if err != nil {
				r.cfg.Logger.Warn("redlock: extend failed on node", "node", i, "error", err)
				return
			}
			extended[i] = ok
		}(i, a)
	}
	wg2.Wait()

	n := 0
	for _, ok := range extended {
		if ok {
			n++
		}
	}
	return n >= r.cfg.Quorum, nil
}

// IsLocked fans out Get and returns true iff at least Quorum nodes report
// a non-null value. Transport errors count as null.
func (r *Redlock) IsLocked(ctx context.Context, key string) bool {
	var wg sync.WaitGroup
	found := make([]bool, len(r.adapters))
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			_, ok, err := a.Get(ctx, key)
			found[i] = err == nil && ok
		}(i, a)
	}
	wg.Wait()

	n := 0
	for _, ok := range found {
		if ok {
			n++
		}
	}
	return n >= r.cfg.Quorum
}

// BufferRatio returns the fraction of TTL the auto-extension scheduler
// should hold back as a distributed safety margin; it is smaller than the
// single-node margin (0.05 vs 0.10 of TTL).
func (r *Redlock) BufferRatio() float64 { return extend.DefaultDistributedBufferRatio }

// RenewFunc returns an extend.RenewFunc that fans atomic-extend-with-
// feedback out to every adapter and succeeds iff at least Quorum nodes
// report success, for use by the scoped executor.
func (r *Redlock) RenewFunc(h LockHandle) extend.RenewFunc {
	return func(ctx context.Context, minRemainingTTL, newTTL time.Duration) (bool, error) {
		var wg sync.WaitGroup
		success := make([]bool, len(r.adapters))
		for i, a := range r.adapters {
			wg.Add(1)
			go func(i int, a adapter.Adapter) {
				defer wg.Done()
				res, err := a.AtomicExtend(ctx, h.Key, h.Value, minRemainingTTL, newTTL)
				if err != nil {
					r.cfg.Logger.Warn("redlock: atomic extend failed on node", "node", i, "error", err)
					return
				}
				success[i] = res.ResultCode == adapter.ExtendSuccess
			}(i, a)
		}
		wg.Wait()

		n := 0
		for _, ok := range success {
			if ok {
				n++
			}
		}
		if n >= r.cfg.Quorum {
			r.cfg.Metrics.RenewalOutcome("redlock", "success")
			return true, nil
		}
		r.cfg.Metrics.RenewalOutcome("redlock", "refused")
		return false, nil
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
