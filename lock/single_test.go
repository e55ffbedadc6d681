package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redilock/redilock/adapter"
)

// TestSingle_HappyPath covers a straightforward acquire/release cycle.
func TestSingle_HappyPath(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	l, err := NewSingle(a, SingleConfig{Key: "job-a", TTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewSingle() error = %v", err)
	}

	h, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !l.IsLocked(ctx, "job-a") {
		t.Error("IsLocked() = false, want true after acquire")
	}

	ok, err := l.Extend(ctx, h, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("Extend() = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = l.Release(ctx, h)
	if err != nil || !ok {
		t.Fatalf("Release() = (%v, %v), want (true, nil)", ok, err)
	}
	if l.IsLocked(ctx, "job-a") {
		t.Error("IsLocked() = true, want false after release")
	}
}

// TestSingle_Contention covers a second caller failing to acquire an already-held lock.
func TestSingle_Contention(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()

	l1, _ := NewSingle(a, SingleConfig{Key: "job-a", TTL: 5 * time.Second})
	if _, err := l1.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	l2, _ := NewSingle(a, SingleConfig{
		Key:           "job-a",
		TTL:           5 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    10 * time.Millisecond,
	})
	_, err := l2.Acquire(ctx)
	if err == nil {
		t.Fatal("second Acquire() succeeded, want LockUnavailable")
	}
	var unavailable *ErrLockUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *ErrLockUnavailable", err)
	}
	if unavailable.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", unavailable.Attempts)
	}
}

func TestSingle_ReleaseRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	l, _ := NewSingle(a, SingleConfig{Key: "job-a", TTL: 5 * time.Second})

	h, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	stolen := h
	stolen.Value = "not-the-real-value"

	ok, err := l.Release(ctx, stolen)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if ok {
		t.Error("Release() with wrong value = true, want false")
	}
	if !l.IsLocked(ctx, "job-a") {
		t.Error("lock should still be held after failed release attempt")
	}
}

func TestSingle_HandleKeyMismatchRejected(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	l, _ := NewSingle(a, SingleConfig{Key: "job-a", TTL: 5 * time.Second})

	h, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h.Key = "some-other-key"

	if _, err := l.Release(ctx, h); !errors.Is(err, ErrValidation) {
		t.Errorf("Release() error = %v, want ErrValidation", err)
	}
	if _, err := l.Extend(ctx, h, time.Second); !errors.Is(err, ErrValidation) {
		t.Errorf("Extend() error = %v, want ErrValidation", err)
	}
}

func TestNewSingle_RejectsBadConfig(t *testing.T) {
	a := adapter.NewMemory()
	if _, err := NewSingle(a, SingleConfig{Key: ""}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewSingle() with empty key error = %v, want ErrConfiguration", err)
	}
}

func TestSingle_ConcurrentAcquireOnlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()

	type result struct {
		h   LockHandle
		err error
	}
	results := make(chan result, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			l, _ := NewSingle(a, SingleConfig{
				Key:        "contended",
				TTL:        5 * time.Second,
				RetryDelay: time.Millisecond,
			})
			h, err := l.Acquire(ctx)
			results <- result{h: h, err: err}
		}(i)
	}

	successes := 0
	for i := 0; i < 10; i++ {
		r := <-results
		if r.err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successful concurrent acquires = %d, want 1", successes)
	}
}
