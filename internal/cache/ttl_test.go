package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTL[int](5*time.Minute, WithClock[int](clock))
	c.Set("a", 1)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected fresh hit, got %v %v", v, ok)
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("expected entry to expire")
	}
}

func TestTTLMiss(t *testing.T) {
	c := NewTTL[string](time.Minute)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestTTLOverwrite(t *testing.T) {
	c := NewTTL[int](time.Minute)
	c.Set("k", 1)
	c.Set("k", 2)
	if v, _ := c.Get("k"); v != 2 {
		t.Errorf("expected overwrite to win, got %d", v)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestTTLMaxSizeEvictsSoonestToExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTL[int](time.Hour, WithClock[int](clock), WithMaxSize[int](3))
	c.Set("first", 1)
	now = now.Add(time.Minute)
	c.Set("second", 2)
	now = now.Add(time.Minute)
	c.Set("third", 3)
	now = now.Add(time.Minute)
	c.Set("fourth", 4)

	if _, ok := c.Get("first"); ok {
		t.Error("expected the soonest-to-expire entry to be evicted")
	}
	for i, k := range []string{"second", "third", "fourth"} {
		if v, ok := c.Get(k); !ok || v != i+2 {
			t.Errorf("expected %s to survive with value %d, got %v %v", k, i+2, v, ok)
		}
	}
}

func TestTTLCleanupPass(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTL[int](time.Minute, WithClock[int](clock))
	for i := 0; i < cleanupThreshold+1; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	now = now.Add(2 * time.Minute)
	c.Set("fresh", 1)

	if c.Len() != 1 {
		t.Errorf("expected cleanup to drop expired entries, have %d", c.Len())
	}
}
