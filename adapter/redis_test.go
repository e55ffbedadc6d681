package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	a := NewRedis(client, Config{KeyPrefix: "test:"})

	t.Cleanup(func() {
		client.Close()
		s.Close()
	})

	return s, a
}

func TestRedis_SetIfAbsent(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	ok, err := a.SetIfAbsent(ctx, "k1", "v1", 30*time.Second)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !ok {
		t.Fatal("SetIfAbsent() = false, want true")
	}

	ok, err = a.SetIfAbsent(ctx, "k1", "v2", 30*time.Second)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if ok {
		t.Fatal("SetIfAbsent() = true, want false (already held)")
	}
}

func TestRedis_KeyPrefixInvisibleToCaller(t *testing.T) {
	s, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	if !s.Exists("test:k1") {
		t.Error("expected prefixed key in store")
	}

	val, ok, err := a.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || val != "v1" {
		t.Errorf("Get() = (%q, %v), want (v1, true)", val, ok)
	}
}

func TestRedis_DeleteIfMatch(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	ok, err := a.DeleteIfMatch(ctx, "k1", "wrong")
	if err != nil {
		t.Fatalf("DeleteIfMatch() error = %v", err)
	}
	if ok {
		t.Error("DeleteIfMatch() with wrong value = true, want false")
	}

	ok, err = a.DeleteIfMatch(ctx, "k1", "v1")
	if err != nil {
		t.Fatalf("DeleteIfMatch() error = %v", err)
	}
	if !ok {
		t.Error("DeleteIfMatch() with correct value = false, want true")
	}

	_, exists, err := a.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if exists {
		t.Error("key should not exist after DeleteIfMatch")
	}
}

func TestRedis_ExtendIfMatch(t *testing.T) {
	s, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 10*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	ok, err := a.ExtendIfMatch(ctx, "k1", "wrong", 60*time.Second)
	if err != nil {
		t.Fatalf("ExtendIfMatch() error = %v", err)
	}
	if ok {
		t.Error("ExtendIfMatch() with wrong value = true, want false")
	}

	s.FastForward(5 * time.Second)

	ok, err = a.ExtendIfMatch(ctx, "k1", "v1", 60*time.Second)
	if err != nil {
		t.Fatalf("ExtendIfMatch() error = %v", err)
	}
	if !ok {
		t.Error("ExtendIfMatch() with correct value = false, want true")
	}

	ttl := s.TTL("test:k1")
	if ttl < 55*time.Second {
		t.Errorf("ttl = %v, want extended close to 60s", ttl)
	}
}

func TestRedis_AtomicExtend_TooLate(t *testing.T) {
	s, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 1*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	s.FastForward(900 * time.Millisecond)

	res, err := a.AtomicExtend(ctx, "k1", "v1", 500*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("AtomicExtend() error = %v", err)
	}
	if res.ResultCode != ExtendTooLate {
		t.Errorf("ResultCode = %d, want %d", res.ResultCode, ExtendTooLate)
	}
}

func TestRedis_AtomicExtend_Mismatch(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "owner", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	res, err := a.AtomicExtend(ctx, "k1", "stranger", 1*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("AtomicExtend() error = %v", err)
	}
	if res.ResultCode != ExtendMismatch {
		t.Errorf("ResultCode = %d, want %d", res.ResultCode, ExtendMismatch)
	}
	if res.ActualTTL <= 0 {
		t.Errorf("ActualTTL = %d, want > 0", res.ActualTTL)
	}
}

func TestRedis_AtomicExtend_Missing(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	res, err := a.AtomicExtend(ctx, "never-set", "v1", 1*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("AtomicExtend() error = %v", err)
	}
	if res.ResultCode != ExtendMismatch || res.ActualTTL != ExtendMissingTTL {
		t.Errorf("got (%d, %d), want (%d, %d)", res.ResultCode, res.ActualTTL, ExtendMismatch, ExtendMissingTTL)
	}
}

func TestRedis_AtomicExtend_Success(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	res, err := a.AtomicExtend(ctx, "k1", "v1", 1*time.Second, 60*time.Second)
	if err != nil {
		t.Fatalf("AtomicExtend() error = %v", err)
	}
	if res.ResultCode != ExtendSuccess {
		t.Errorf("ResultCode = %d, want %d", res.ResultCode, ExtendSuccess)
	}
}

func TestRedis_BatchSetIfAbsent_Success(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	res, err := a.BatchSetIfAbsent(ctx, []string{"a", "b", "c"}, []string{"v1", "v2", "v3"}, 30*time.Second)
	if err != nil {
		t.Fatalf("BatchSetIfAbsent() error = %v", err)
	}
	if !res.Success || res.AcquiredCount != 3 {
		t.Errorf("got %+v, want success with count 3", res)
	}

	for i, k := range []string{"a", "b", "c"} {
		val, ok, err := a.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Get(%q) failed, err=%v ok=%v", k, err, ok)
		}
		want := []string{"v1", "v2", "v3"}[i]
		if val != want {
			t.Errorf("Get(%q) = %q, want %q", k, val, want)
		}
	}
}

func TestRedis_BatchSetIfAbsent_Failure(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "b", "pre-held", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	res, err := a.BatchSetIfAbsent(ctx, []string{"a", "b", "c"}, []string{"v1", "v2", "v3"}, 30*time.Second)
	if err != nil {
		t.Fatalf("BatchSetIfAbsent() error = %v", err)
	}
	if res.Success {
		t.Fatal("BatchSetIfAbsent() succeeded, want failure")
	}
	if res.FailedIndex != 2 || res.FailedKey != "b" {
		t.Errorf("got FailedIndex=%d FailedKey=%q, want 2, \"b\"", res.FailedIndex, res.FailedKey)
	}

	for _, k := range []string{"a", "c"} {
		_, ok, err := a.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", k, err)
		}
		if ok {
			t.Errorf("key %q should not be present after batch failure", k)
		}
	}
}

func TestRedis_Inspect(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	_, found, err := a.Inspect(ctx, "missing")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if found {
		t.Error("Inspect() on missing key found = true, want false")
	}

	if _, err := a.SetIfAbsent(ctx, "k1", "v1", 30*time.Second); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	insp, found, err := a.Inspect(ctx, "k1")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if !found || insp.Value != "v1" || insp.TTL <= 0 {
		t.Errorf("Inspect() = %+v found=%v, want value v1 with positive ttl", insp, found)
	}
}

func TestRedis_Validation(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	if _, err := a.SetIfAbsent(ctx, "", "v", time.Second); err == nil {
		t.Error("expected validation error for empty key")
	}
	if _, err := a.SetIfAbsent(ctx, "k\r\n", "v", time.Second); err == nil {
		t.Error("expected validation error for key with CRLF")
	}
	if _, err := a.SetIfAbsent(ctx, "k", "", time.Second); err == nil {
		t.Error("expected validation error for empty value")
	}
	if _, err := a.SetIfAbsent(ctx, "k", "v", 0); err == nil {
		t.Error("expected validation error for non-positive ttl")
	}
	if _, err := a.SetIfAbsent(ctx, "k", "v", 25*time.Hour); err == nil {
		t.Error("expected validation error for ttl over 24h")
	}
	if _, err := a.BatchSetIfAbsent(ctx, []string{"a"}, []string{"v1", "v2"}, time.Second); err == nil {
		t.Error("expected validation error for mismatched batch arrays")
	}
}

func TestRedis_ScriptSHACache_ReusedAcrossCalls(t *testing.T) {
	_, a := setupMiniredis(t)
	ctx := context.Background()

	// The first DeleteIfMatch call lazily loads and caches the script's
	// SHA; subsequent calls must reuse the cached hash rather than
	// re-issuing SCRIPT LOAD.
	for i := 0; i < 5; i++ {
		key := "k"
		if _, err := a.SetIfAbsent(ctx, key, "v1", 30*time.Second); err != nil && i == 0 {
			t.Fatalf("SetIfAbsent() error = %v", err)
		}
		if _, err := a.DeleteIfMatch(ctx, key, "v1"); err != nil {
			t.Fatalf("DeleteIfMatch() iteration %d error = %v", i, err)
		}
	}

	a.mu.RLock()
	_, cached := a.shas[scriptConditionalDelete]
	a.mu.RUnlock()
	if !cached {
		t.Error("expected conditional-delete script SHA to be cached after first use")
	}
}

func TestRedis_Disconnect(t *testing.T) {
	_, a := setupMiniredis(t)

	if err := a.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}

	if err := a.Ping(context.Background()); err == nil {
		t.Error("expected error pinging after Disconnect()")
	}
}
