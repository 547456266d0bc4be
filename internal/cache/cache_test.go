package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestCache(t *testing.T, maxEntries int, compression bool) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, maxEntries, 5*time.Minute, 0, compression)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, 10, true)

	if err := c.Set("k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get(k) = (%q, %v), want (\"v\", true)", got, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t, 10, true)

	if err := c.Set("k", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Fatalf("expected immediate hit, got (%q, %v)", got, ok)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL expiry")
	}

	// L2 file for the key must be gone after the expired read.
	path := c.shardPath("k")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected L2 file removed after expiry, stat err = %v", err)
	}
}

func TestCacheNeverCompressesWhenDisabled(t *testing.T) {
	c := newTestCache(t, 10, false)
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}

	if err := c.Set("big", string(big), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	path := c.shardPath("big")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), `"compressed":true`) {
		t.Error("expected compressed:true to never appear when compression is disabled")
	}
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, 10, true)
	c.Set("k", "v", time.Minute)
	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestCacheDeleteMissingIsNotError(t *testing.T) {
	c := newTestCache(t, 10, true)
	if err := c.Delete("nope"); err != nil {
		t.Errorf("Delete of missing key should not error, got: %v", err)
	}
}

func TestGraphQLKeyComposition(t *testing.T) {
	k1, err := GraphQLKey("query { x }", map[string]string{"a": "1"})
	if err != nil {
		t.Fatalf("GraphQLKey: %v", err)
	}
	k2, err := GraphQLKey("query { x }", map[string]string{"a": "1"})
	if err != nil {
		t.Fatalf("GraphQLKey: %v", err)
	}
	if k1 != k2 {
		t.Errorf("GraphQLKey should be deterministic: %q != %q", k1, k2)
	}
	if len(k1) < len("graphql:") {
		t.Errorf("key too short: %q", k1)
	}
}

func TestShardPathUsesFirstTwoHexChars(t *testing.T) {
	c := newTestCache(t, 10, true)
	path := c.shardPath("some-key")
	dir := filepath.Base(filepath.Dir(path))
	if len(dir) != 2 {
		t.Errorf("expected 2-char shard dir, got %q", dir)
	}
}
