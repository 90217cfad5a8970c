package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(ctx, "dir_list:workflows", []byte(`[]`))
	if v, ok, _ := c.Get(ctx, "dir_list:workflows"); !ok || string(v) != "[]" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(59 * time.Minute)
	if _, ok, _ := c.Get(ctx, "dir_list:workflows"); !ok {
		t.Error("entry should still be fresh")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "dir_list:workflows"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped, %d left", c.Len())
	}
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("expected miss after Clear")
	}
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(RedisConfig{Prefix: "test:", TTL: time.Hour}, client), mr
}

func TestRedisGetSet(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "file_content:a.json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "file_content:a.json")
	if err != nil || !ok || string(v) != `{"a":1}` {
		t.Fatalf("unexpected get %q %v %v", v, ok, err)
	}

	if ttl := mr.TTL("test:file_content:a.json"); ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, "file_content:a.json"); ok {
		t.Error("expected key to expire")
	}
}

func TestRedisClearOnlyPrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	for i := 0; i < 250; i++ {
		c.Set(ctx, "dir_list:"+time.Duration(i).String(), []byte("x"))
	}
	mr.Set("other:key", "keep")

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "other:key" {
		t.Errorf("expected only foreign key to remain, got %d keys", len(keys))
	}
}
