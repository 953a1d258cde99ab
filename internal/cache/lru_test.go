package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a")
	}
	c.Set("c", "3")

	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected %s to survive", k)
		}
	}
}

func TestLRUExpires(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	clk.t = clk.t.Add(30 * time.Second)
	c.Set("b", "2b")
	clk.t = clk.t.Add(31 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Fatal("a should be expired")
	}
	if v, ok := c.Get("b"); !ok || v != "2b" {
		t.Fatalf("expected refreshed b, got %q %v", v, ok)
	}

	clk.t = clk.t.Add(time.Hour)
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired entry, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
}

func TestLRUPurgeAndStats(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Get("a")
	c.Get("missing")
	c.Purge()
	c.Get("a")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 2 || s.Size != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestManagerSweep(t *testing.T) {
	c1, clk1 := newTestCache(10, time.Second)
	c2, _ := newTestCache(10, time.Hour)
	c1.Set("x", "1")
	c2.Set("y", "2")
	clk1.t = clk1.t.Add(time.Minute)

	m := NewManager()
	m.Register(c1)
	m.Register(c2)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
