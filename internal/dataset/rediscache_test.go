package dataset

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisPayloadCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	pc, err := NewRedisPayloadCache(context.Background(), discardLogger(), mr.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewRedisPayloadCache: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })
	return mr, pc
}

func TestRedisPayloadCache_RoundTrip(t *testing.T) {
	_, pc := newTestCache(t, 0)
	ctx := context.Background()

	if _, ok := pc.Get(ctx, 5); ok {
		t.Fatalf("expected miss on empty cache")
	}
	body := []byte(`[{"cell":"abc","count":1}]`)
	pc.Put(ctx, 5, body)

	got, ok := pc.Get(ctx, 5)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if string(got) != string(body) {
		t.Fatalf("payload = %q, want %q", got, body)
	}
	// resolutions are independent keys
	if _, ok := pc.Get(ctx, 6); ok {
		t.Fatalf("unexpected hit for another resolution")
	}
}

func TestRedisPayloadCache_TTLExpiry(t *testing.T) {
	mr, pc := newTestCache(t, time.Minute)
	ctx := context.Background()

	pc.Put(ctx, 4, []byte("x"))
	mr.FastForward(2 * time.Minute)

	if _, ok := pc.Get(ctx, 4); ok {
		t.Fatalf("expected miss after ttl expiry")
	}
}

func TestLoader_FillsFromPayloadCache(t *testing.T) {
	_, pc := newTestCache(t, 0)
	ctx := context.Background()

	cell := cellAt(t, 5, 51.5, -0.12)
	pc.Put(ctx, 5, fmt.Appendf(nil, `[{"cell":"%s","count":3}]`, cell))

	src := newFakeSource() // has no payload; a fetch would fail
	l := NewLoader(discardLogger(), src, WithPayloadCache(pc))

	ds, err := l.Load(ctx, 5)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(ds.Features))
	}
	if n := src.count(5); n != 0 {
		t.Fatalf("source fetches = %d, want 0 when payload cache hits", n)
	}
}

func TestLoader_WritesThroughToPayloadCache(t *testing.T) {
	_, pc := newTestCache(t, 0)
	ctx := context.Background()

	src := newFakeSource()
	src.payload[6] = fmt.Appendf(nil, `[{"cell":"%s","count":2}]`, cellAt(t, 6, 51.5, -0.12))

	l := NewLoader(discardLogger(), src, WithPayloadCache(pc))
	if _, err := l.Load(ctx, 6); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := pc.Get(ctx, 6); !ok {
		t.Fatalf("successful fetch should write through to the payload cache")
	}
}
