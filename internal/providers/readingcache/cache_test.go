package readingcache

import (
	"context"
	"testing"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

type stepClock struct{ at time.Time }

func (c *stepClock) Now() time.Time { return c.at }

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clock := &stepClock{at: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(5*time.Minute, clock)
	ctx := context.Background()

	reading := devices.Reading{"solar_wh": 4000}
	if err := cache.Set(ctx, "enphase", "sys-1", reading); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := cache.Get(ctx, "enphase", "sys-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got["solar_wh"] != 4000 {
		t.Fatalf("unexpected reading %v", got)
	}

	clock.at = clock.at.Add(5*time.Minute + time.Second)
	if _, ok, _ := cache.Get(ctx, "enphase", "sys-1"); ok {
		t.Fatal("entry must expire after the TTL")
	}
}

func TestMemoryCache_MissOnUnknownKey(t *testing.T) {
	cache := NewMemoryCache(time.Minute, nil)
	if _, ok, err := cache.Get(context.Background(), "tesla", "veh-1"); ok || err != nil {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
}

func TestMemoryCache_DetachedCopies(t *testing.T) {
	cache := NewMemoryCache(time.Minute, nil)
	ctx := context.Background()
	original := devices.Reading{"solar_wh": 100}
	if err := cache.Set(ctx, "enphase", "sys-1", original); err != nil {
		t.Fatalf("set: %v", err)
	}
	original["solar_wh"] = 999

	got, ok, _ := cache.Get(ctx, "enphase", "sys-1")
	if !ok || got["solar_wh"] != 100 {
		t.Fatalf("cache must store a detached copy, got %v", got)
	}
	got["solar_wh"] = 777
	again, _, _ := cache.Get(ctx, "enphase", "sys-1")
	if again["solar_wh"] != 100 {
		t.Fatal("cache reads must return detached copies")
	}
}
