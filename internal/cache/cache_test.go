package cache

import (
	"testing"
	"time"
)

func newClockedCache(size int, ttl time.Duration) (*LRUCache[[]byte], *time.Time) {
	c := NewLRUCache[[]byte](size, ttl)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLRUCache_GetSet(t *testing.T) {
	c, _ := newClockedCache(2, time.Minute)

	if _, ok := c.Get("main-indicators"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set("main-indicators", []byte(`{"netWorth":"1"}`))
	got, ok := c.Get("main-indicators")
	if !ok || string(got) != `{"netWorth":"1"}` {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Size != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newClockedCache(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Get("a")
	c.Set("c", []byte("3"))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c, now := newClockedCache(10, 5*time.Second)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	*now = now.Add(5 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should expire at its ttl")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCache_DeleteAndPurge(t *testing.T) {
	c, _ := newClockedCache(10, time.Minute)
	c.Set("a", nil)
	c.Set("b", nil)
	c.Delete("a")
	if c.Size() != 1 {
		t.Errorf("Size() after Delete = %d", c.Size())
	}
	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Size() after Purge = %d", c.Size())
	}
	c.Set("c", nil)
	if _, ok := c.Get("c"); !ok {
		t.Error("cache should be usable after Purge")
	}
}

func TestManager(t *testing.T) {
	c, now := newClockedCache(10, time.Second)
	c.Set("a", nil)
	*now = now.Add(2 * time.Second)

	m := NewManager()
	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Errorf("CleanNow() = %d, want 1", n)
	}

	m.StartCleanup(time.Hour)
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestManager_StopWithoutStart(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewManager().Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a manager that never started")
	}
}
