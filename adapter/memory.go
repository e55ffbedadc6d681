package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// entry is one held lock in the in-memory store.
type entry struct {
	value    string
	expireAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.After(now)
}

// Memory is an in-memory Adapter test double. It implements the full
// Adapter surface with real TTL bookkeeping; expiry is evaluated lazily on
// read, suited to fast in-process tests that don't need wire-level fidelity.
// Grounded on cronlock/internal/lock/mock.go's mutex-guarded map style,
// generalized to the richer store-primitive surface.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	closed  bool
	now     func() time.Time
}

// NewMemory constructs an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) getLocked(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.entries[key] = entry{value: value, expireAt: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Delete(_ context.Context, key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); !ok {
		return 0, nil
	}
	delete(m.entries, key)
	return 1, nil
}

func (m *Memory) DeleteIfMatch(_ context.Context, key, value string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) ExtendIfMatch(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key)
	if !ok || e.value != value {
		return false, nil
	}
	e.expireAt = m.now().Add(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *Memory) AtomicExtend(_ context.Context, key, value string, minRemainingTTL, newTTL time.Duration) (AtomicExtendResult, error) {
	if err := validateKey(key); err != nil {
		return AtomicExtendResult{}, err
	}
	if err := validateValue(value); err != nil {
		return AtomicExtendResult{}, err
	}
	if err := validateTTL(newTTL); err != nil {
		return AtomicExtendResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.getLocked(key)
	if !ok {
		return AtomicExtendResult{ResultCode: ExtendMismatch, ActualTTL: ExtendMissingTTL, Message: "key missing"}, nil
	}

	remaining := e.expireAt.Sub(m.now())
	if remaining < minRemainingTTL {
		return AtomicExtendResult{ResultCode: ExtendTooLate, ActualTTL: remaining.Milliseconds(), Message: "remaining ttl below minimum"}, nil
	}
	if e.value != value {
		return AtomicExtendResult{ResultCode: ExtendMismatch, ActualTTL: remaining.Milliseconds(), Message: "value mismatch"}, nil
	}

	e.expireAt = m.now().Add(newTTL)
	m.entries[key] = e
	return AtomicExtendResult{ResultCode: ExtendSuccess, ActualTTL: remaining.Milliseconds(), Message: "extended"}, nil
}

func (m *Memory) BatchSetIfAbsent(_ context.Context, keys, values []string, ttl time.Duration) (BatchAcquireResult, error) {
	if err := validateBatch(keys, values, ttl); err != nil {
		return BatchAcquireResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, k := range keys {
		if _, ok := m.getLocked(k); ok {
			return BatchAcquireResult{Success: false, FailedIndex: i + 1, FailedKey: k}, nil
		}
	}
	now := m.now()
	for i, k := range keys {
		m.entries[k] = entry{value: values[i], expireAt: now.Add(ttl)}
	}
	return BatchAcquireResult{Success: true, AcquiredCount: len(keys)}, nil
}

func (m *Memory) Inspect(_ context.Context, key string) (LockInspection, bool, error) {
	if err := validateKey(key); err != nil {
		return LockInspection{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.getLocked(key)
	if !ok {
		return LockInspection{}, false, nil
	}
	return LockInspection{Value: e.value, TTL: e.expireAt.Sub(m.now())}, true, nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: adapter disconnected", ErrAdapter)
	}
	return nil
}

func (m *Memory) IsConnected(ctx context.Context) bool {
	return m.Ping(ctx) == nil
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = make(map[string]entry)
	return nil
}

// SetClock overrides the time source used for TTL bookkeeping, letting
// tests fast-forward without real sleeps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
