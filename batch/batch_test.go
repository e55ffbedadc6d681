package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redilock/redilock/adapter"
	"github.com/redilock/redilock/extend"
	"github.com/redilock/redilock/lock"
)

// TestManager_AllOrNothingSuccess covers a clean multi-key acquire and release.
func TestManager_AllOrNothingSuccess(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	m := NewManager(a, Config{TTL: 5 * time.Second})

	keys := []string{"z-key", "a-key", "m-key"}
	handles, err := m.Acquire(ctx, keys)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(handles) != len(keys) {
		t.Fatalf("len(handles) = %d, want %d", len(handles), len(keys))
	}
	for i, k := range keys {
		if handles[i].Key != k {
			t.Errorf("handles[%d].Key = %q, want %q (order must match caller input)", i, handles[i].Key, k)
		}
		if _, ok, _ := a.Get(ctx, k); !ok {
			t.Errorf("key %q not held in store after Acquire", k)
		}
	}

	ok, err := m.Release(ctx, handles)
	if err != nil || !ok {
		t.Fatalf("Release() = (%v, %v), want (true, nil)", ok, err)
	}
	for _, k := range keys {
		if _, ok, _ := a.Get(ctx, k); ok {
			t.Errorf("key %q still held after Release", k)
		}
	}
}

// TestManager_AllOrNothingFailure covers the case where any key is
// already held, none are acquired.
func TestManager_AllOrNothingFailure(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	if _, err := a.SetIfAbsent(ctx, "b-key", "someone-else", 5*time.Second); err != nil {
		t.Fatalf("setup SetIfAbsent() error = %v", err)
	}

	m := NewManager(a, Config{TTL: 5 * time.Second})
	_, err := m.Acquire(ctx, []string{"a-key", "b-key", "c-key"})
	if err == nil {
		t.Fatal("Acquire() succeeded, want failure since b-key is already held")
	}
	var unavailable *lock.ErrLockUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want *lock.ErrLockUnavailable", err)
	}

	for _, k := range []string{"a-key", "c-key"} {
		if _, ok, _ := a.Get(ctx, k); ok {
			t.Errorf("key %q was acquired despite batch failure", k)
		}
	}
}

func TestManager_Using(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	m := NewManager(a, Config{TTL: 5 * time.Second})

	ran := false
	err := m.Using(ctx, []string{"x", "y"}, func(ctx context.Context, signal *extend.Signal) error {
		ran = true
		if signal.Aborted() {
			t.Error("signal aborted during successful routine")
		}
		for _, k := range []string{"x", "y"} {
			if _, ok, _ := a.Get(ctx, k); !ok {
				t.Errorf("key %q not held during routine", k)
			}
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Using() error = %v", err)
	}
	if !ran {
		t.Fatal("routine did not run")
	}
	for _, k := range []string{"x", "y"} {
		if _, ok, _ := a.Get(ctx, k); ok {
			t.Errorf("key %q still held after Using returns", k)
		}
	}
}

func TestManager_RejectsEmptyKeys(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewMemory()
	m := NewManager(a, Config{TTL: 5 * time.Second})

	if _, err := m.Acquire(ctx, nil); !errors.Is(err, lock.ErrValidation) {
		t.Errorf("Acquire(nil) error = %v, want ErrValidation", err)
	}
}
