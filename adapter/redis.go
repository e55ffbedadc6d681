package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config carries the construction-time parameters for Redis.
type Config struct {
	// KeyPrefix, if non-empty, is prepended to every key before store I/O
	// and stripped before surfacing keys back to callers.
	KeyPrefix string
	// Timeout bounds every individual store round-trip. Defaults to 5s.
	Timeout time.Duration
	Logger  Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = NewNoopLogger()
	}
	return c
}

// Redis is the production Adapter, backed by github.com/redis/go-redis/v9.
// It speaks SET ... NX PX, GET, DEL, PTTL, SCRIPT LOAD, EVALSHA, PING per
// the shared script texts, and maintains its own script-hash cache independent of
// go-redis's internal one so that NOSCRIPT recovery follows the adapter's
// documented one-retry policy exactly.
type Redis struct {
	client redis.UniversalClient
	cfg    Config

	mu     sync.RWMutex
	shas   map[scriptName]string
}

// NewRedis constructs a Redis adapter over an already-configured client.
// Construction of the client itself (connection pool, TLS, cluster
// topology) is the caller's responsibility.
func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg.withDefaults(),
		shas:   make(map[scriptName]string),
	}
}

func (r *Redis) prefixed(key string) string {
	return r.cfg.KeyPrefix + key
}

func (r *Redis) unprefixed(key string) string {
	if r.cfg.KeyPrefix == "" {
		return key
	}
	if len(key) >= len(r.cfg.KeyPrefix) && key[:len(r.cfg.KeyPrefix)] == r.cfg.KeyPrefix {
		return key[len(r.cfg.KeyPrefix):]
	}
	return key
}

// withTimeout races an operation against the adapter's per-call deadline,
// always cancelling the derived context so the pending timer cannot
// outlive the call or block process shutdown.
func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

// mapErr wraps a transport/store error, translating context deadline
// exceeded into ErrTimeout.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ok, err := r.client.SetNX(ctx, r.prefixed(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("adapter: set-if-absent %q: %w", key, mapErr(err))
	}
	return ok, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, r.prefixed(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("adapter: get %q: %w", key, mapErr(err))
	}
	return val, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, r.prefixed(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("adapter: delete %q: %w", key, mapErr(err))
	}
	return n, nil
}

func (r *Redis) DeleteIfMatch(ctx context.Context, key, value string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}

	res, err := r.evalScript(ctx, scriptConditionalDelete, []string{r.prefixed(key)}, value)
	if err != nil {
		return false, fmt.Errorf("adapter: delete-if-match %q: %w", key, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

func (r *Redis) ExtendIfMatch(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := validateValue(value); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}

	res, err := r.evalScript(ctx, scriptConditionalExtend, []string{r.prefixed(key)}, value, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("adapter: extend-if-match %q: %w", key, err)
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

func (r *Redis) AtomicExtend(ctx context.Context, key, value string, minRemainingTTL, newTTL time.Duration) (AtomicExtendResult, error) {
	if err := validateKey(key); err != nil {
		return AtomicExtendResult{}, err
	}
	if err := validateValue(value); err != nil {
		return AtomicExtendResult{}, err
	}
	if err := validateTTL(newTTL); err != nil {
		return AtomicExtendResult{}, err
	}

	res, err := r.evalScript(ctx, scriptAtomicExtend, []string{r.prefixed(key)},
		value, minRemainingTTL.Milliseconds(), newTTL.Milliseconds())
	if err != nil {
		return AtomicExtendResult{}, fmt.Errorf("adapter: atomic-extend %q: %w", key, err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return AtomicExtendResult{}, fmt.Errorf("%w: unexpected atomic-extend reply shape", ErrAdapter)
	}
	code, _ := toInt64(arr[0])
	ttl, _ := toInt64(arr[1])

	out := AtomicExtendResult{ResultCode: int(code), ActualTTL: ttl}
	switch out.ResultCode {
	case ExtendSuccess:
		out.Message = "extended"
	case ExtendTooLate:
		out.Message = "remaining ttl below minimum"
	case ExtendMismatch:
		if ttl == ExtendMissingTTL {
			out.Message = "key missing"
		} else {
			out.Message = "value mismatch"
		}
	}
	return out, nil
}

func (r *Redis) BatchSetIfAbsent(ctx context.Context, keys, values []string, ttl time.Duration) (BatchAcquireResult, error) {
	if err := validateBatch(keys, values, ttl); err != nil {
		return BatchAcquireResult{}, err
	}

	prefixedKeys := make([]string, len(keys))
	for i, k := range keys {
		prefixedKeys[i] = r.prefixed(k)
	}
	args := make([]interface{}, 0, len(values)+1)
	for _, v := range values {
		args = append(args, v)
	}
	args = append(args, ttl.Milliseconds())

	res, err := r.evalScript(ctx, scriptBatchSetIfAbsent, prefixedKeys, args...)
	if err != nil {
		return BatchAcquireResult{}, fmt.Errorf("adapter: batch-set-if-absent: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return BatchAcquireResult{}, fmt.Errorf("%w: unexpected batch reply shape", ErrAdapter)
	}
	code, _ := toInt64(arr[0])
	if code == 1 {
		n, _ := toInt64(arr[1])
		return BatchAcquireResult{Success: true, AcquiredCount: int(n)}, nil
	}

	idx, _ := toInt64(arr[1])
	failedKey := ""
	if len(arr) >= 3 {
		if s, ok := arr[2].(string); ok {
			failedKey = r.unprefixed(s)
		}
	}
	return BatchAcquireResult{Success: false, FailedIndex: int(idx), FailedKey: failedKey}, nil
}

func (r *Redis) Inspect(ctx context.Context, key string) (LockInspection, bool, error) {
	if err := validateKey(key); err != nil {
		return LockInspection{}, false, err
	}

	res, err := r.evalScript(ctx, scriptInspect, []string{r.prefixed(key)})
	if errors.Is(err, redis.Nil) {
		return LockInspection{}, false, nil
	}
	if err != nil {
		return LockInspection{}, false, fmt.Errorf("adapter: inspect %q: %w", key, err)
	}
	if res == nil {
		return LockInspection{}, false, nil
	}
	b, ok := res.(bool)
	if ok && !b {
		return LockInspection{}, false, nil
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return LockInspection{}, false, fmt.Errorf("%w: unexpected inspect reply shape", ErrAdapter)
	}
	value, _ := arr[0].(string)
	ttlMs, _ := toInt64(arr[1])
	return LockInspection{Value: value, TTL: time.Duration(ttlMs) * time.Millisecond}, true, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("adapter: ping: %w", mapErr(err))
	}
	return nil
}

func (r *Redis) IsConnected(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

func (r *Redis) Disconnect() error {
	r.mu.Lock()
	r.shas = make(map[scriptName]string)
	r.mu.Unlock()
	return r.client.Close()
}

// evalScript looks up (lazily loading) the script's SHA and evaluates it.
// On a NOSCRIPT reply it invalidates the cached hash and retries exactly
// once by reloading the script; a second NOSCRIPT is fatal under this
// script-caching policy.
func (r *Redis) evalScript(ctx context.Context, name scriptName, keys []string, args ...interface{}) (interface{}, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	sha, err := r.scriptSHA(ctx, name)
	if err != nil {
		return nil, err
	}

	res, err := r.client.EvalSha(ctx, sha, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if !isNoScript(err) {
		return nil, mapErr(err)
	}

	r.cfg.Logger.Warn("adapter: script not found, reloading", "script", string(name))
	r.invalidateSHA(name)
	sha, err = r.scriptSHA(ctx, name)
	if err != nil {
		return nil, err
	}
	res, err = r.client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil {
		if isNoScript(err) {
			return nil, fmt.Errorf("%w: script %q missing after reload", ErrAdapter, name)
		}
		return nil, mapErr(err)
	}
	return res, nil
}

func (r *Redis) scriptSHA(ctx context.Context, name scriptName) (string, error) {
	r.mu.RLock()
	sha, ok := r.shas[name]
	r.mu.RUnlock()
	if ok {
		return sha, nil
	}

	src, ok := scriptTexts[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown script %q", ErrAdapter, name)
	}
	sha, err := r.client.ScriptLoad(ctx, src).Result()
	if err != nil {
		return "", fmt.Errorf("%w: load script %q: %v", ErrAdapter, name, mapErr(err))
	}

	r.mu.Lock()
	r.shas[name] = sha
	r.mu.Unlock()
	return sha, nil
}

func (r *Redis) invalidateSHA(name scriptName) {
	r.mu.Lock()
	delete(r.shas, name)
	r.mu.Unlock()
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
