// Package exec implements the scoped-execution API: acquire a lock, run a
// user routine under automatic renewal, and guarantee release on every
// exit path. Grounded on cronlock/internal/scheduler/job.go's Run method,
// generalized from a single cron job to any lock.Renewer.
package exec

import (
	"context"
	"fmt"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/extend"
	"github.com/redilock/redilock/lock"
)

// Routine is the user-supplied work run while the lock is held. signal
// reports true from its Aborted method if the scheduler has lost the
// ability to renew the lock; well-behaved routines should check it
// periodically on long-running work and return early.
type Routine func(ctx context.Context, signal *extend.Signal) error

// Options configures Using. The zero value is valid.
type Options struct {
	Logger adapter.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = adapter.NewNoopLogger()
	}
	return o
}

// Using acquires l, starts an auto-extension scheduler for the duration
// of routine, and releases the lock once routine returns — on any exit
// path, including a panic propagating out of routine. Release failures
// are only surfaced if routine itself succeeded; if routine already
// failed, a release failure is logged but routine's error takes
// priority, since it is the more actionable diagnostic.
func Using(ctx context.Context, l lock.Renewer, routine Routine, opts ...Options) error {
	o := Options{}
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()

	h, err := l.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("exec: acquire: %w", err)
	}

	sched := extend.NewScheduler(extend.Config{
		TTL:         l.TTL(),
		BufferRatio: l.BufferRatio(),
		Logger:      o.Logger,
	})
	sched.Start(ctx, l.RenewFunc(h))

	var routineErr, releaseErr error
	func() {
		defer func() {
			sched.Stop()
			_, releaseErr = l.Release(ctx, h)
		}()
		routineErr = routine(ctx, sched.Signal())
	}()

	if releaseErr != nil {
		if routineErr != nil {
			o.Logger.Warn("exec: release failed after routine error, routine error takes priority", "release_error", releaseErr, "routine_error", routineErr)
		} else {
			return fmt.Errorf("exec: release: %w", releaseErr)
		}
	}

	return routineErr
}
