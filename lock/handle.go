package lock

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redilock/redilock/extend"
)

// Renewer is the narrow surface the scoped executor needs from a lock:
// acquire and release a handle, and supply an extend.RenewFunc the
// auto-extension scheduler can drive without knowing whether it is
// renewing a single node or a quorum. Both *Single and *Redlock satisfy
// it.
type Renewer interface {
	Acquire(ctx context.Context) (LockHandle, error)
	Release(ctx context.Context, h LockHandle) (bool, error)
	TTL() time.Duration
	BufferRatio() float64
	RenewFunc(h LockHandle) extend.RenewFunc
}

// Strategy tags the mechanism that produced a LockHandle.
type Strategy string

const (
	StrategySingle  Strategy = "single"
	StrategyRedlock Strategy = "redlock"
	StrategyBatch   Strategy = "batch"
)

// HandleMetadata carries acquisition diagnostics.
type HandleMetadata struct {
	// Attempts is the number of acquire attempts, including the
	// successful one.
	Attempts int
	// AcquisitionDuration is the wall-clock time the whole acquire call
	// took.
	AcquisitionDuration time.Duration
	// Nodes lists, for the redlock strategy, the adapter indices that
	// accepted the lock.
	Nodes []int
	// Strategy is the mechanism tag for this handle.
	Strategy Strategy
}

// LockHandle is the opaque capability returned by a successful acquire. It
// is a value: it has no lifecycle of its own and is only valid against the
// lock instance that produced it.
type LockHandle struct {
	// ID is a per-acquire identifier used for diagnostics and correlation.
	ID string
	// Key is the store key this handle protects.
	Key string
	// Value is the fencing token: the owner-proof used on release/extend.
	Value string
	// AcquiredAt is the wall-clock timestamp of acquisition completion.
	AcquiredAt time.Time
	// TTL is the lifetime requested on the store at acquisition time.
	TTL time.Duration
	// Metadata carries acquisition diagnostics.
	Metadata HandleMetadata
}

// NewFencingToken mints a fencing token usable as a lock value outside
// this package, for callers (such as the batch manager) that assemble
// their own LockHandle values.
func NewFencingToken() (string, error) {
	return newToken()
}

// newToken mints a fencing token from a cryptographically strong random
// source with at least 16 bytes of entropy, encoded as a bounded-length
// printable string, composed with a UUID for collision-free readability in
// logs (grounded on cronlock/internal/lock/redis.go's lockValue()).
func newToken() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("lock: mint fencing token: %w", err)
	}
	return uuid.New().String() + "." + base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// validateHandle checks the handle invariants common to release and
// extend: the handle belongs to this lock's key, and id/key/value are
// present.
func validateHandle(h LockHandle, lockKey string) error {
	if h.ID == "" || h.Key == "" || h.Value == "" {
		return fmt.Errorf("%w: handle is missing id, key, or value", ErrValidation)
	}
	if h.Key != lockKey {
		return fmt.Errorf("%w: handle key %q does not match lock key %q", ErrValidation, h.Key, lockKey)
	}
	return nil
}
