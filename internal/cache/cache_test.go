package cache

import (
	"sync"
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	c := New()

	c.Put(NamespaceKeyList, "all", []string{"a", "b"})
	v, ok := c.Get(NamespaceKeyList, "all")
	if !ok {
		t.Fatal("expected hit")
	}
	if keys := v.([]string); len(keys) != 2 {
		t.Errorf("value = %v", keys)
	}

	if _, ok := c.Get(NamespaceKeyList, "other"); ok {
		t.Error("unexpected hit for unknown key")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New()
	c.Register("short", 30*time.Millisecond, 8)

	c.Put("short", "k", "v")
	if _, ok := c.Get("short", "k"); !ok {
		t.Fatal("entry should be fresh")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("short", "k"); ok {
		t.Error("entry should have expired after TTL")
	}
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Put(NamespaceKeyList, "all", "v")
	c.Put(NamespaceDirs, "keys", true)

	c.Invalidate(NamespaceKeyList)
	if _, ok := c.Get(NamespaceKeyList, "all"); ok {
		t.Error("invalidated namespace should miss")
	}
	if _, ok := c.Get(NamespaceDirs, "keys"); !ok {
		t.Error("other namespaces should survive invalidation")
	}

	m := c.MetricsSnapshot()
	if m.Invalidations != 1 {
		t.Errorf("invalidations = %d; want 1", m.Invalidations)
	}
}

func TestInvalidateKey(t *testing.T) {
	c := New()
	c.Put(NamespaceDirs, "a", true)
	c.Put(NamespaceDirs, "b", true)

	c.InvalidateKey(NamespaceDirs, "a")
	if _, ok := c.Get(NamespaceDirs, "a"); ok {
		t.Error("invalidated key should miss")
	}
	if _, ok := c.Get(NamespaceDirs, "b"); !ok {
		t.Error("sibling key should survive")
	}
}

func TestClear(t *testing.T) {
	c := New()
	c.Put(NamespaceKeyList, "a", 1)
	c.Put(NamespaceDirs, "b", 2)

	c.Clear()
	if _, ok := c.Get(NamespaceKeyList, "a"); ok {
		t.Error("cleared cache should miss")
	}
	if _, ok := c.Get(NamespaceDirs, "b"); ok {
		t.Error("cleared cache should miss")
	}
}

func TestMetrics(t *testing.T) {
	c := New()
	c.Put(NamespaceKeyList, "k", "v")

	c.Get(NamespaceKeyList, "k")       // hit
	c.Get(NamespaceKeyList, "missing") // miss
	c.Get(NamespaceKeyList, "missing") // miss

	m := c.MetricsSnapshot()
	if m.Hits[NamespaceKeyList] != 1 {
		t.Errorf("hits = %d; want 1", m.Hits[NamespaceKeyList])
	}
	if m.Misses[NamespaceKeyList] != 2 {
		t.Errorf("misses = %d; want 2", m.Misses[NamespaceKeyList])
	}
}

func TestUnknownNamespaceDegradesToMiss(t *testing.T) {
	c := New()

	// Neither of these may panic or error; the caller just sees a miss.
	c.Put("nope", "k", "v")
	if _, ok := c.Get("nope", "k"); ok {
		t.Error("unknown namespace should miss")
	}
	c.Invalidate("nope")
	c.InvalidateKey("nope", "k")
}

func TestCapacityEviction(t *testing.T) {
	c := New()
	c.Register("tiny", time.Minute, 2)

	c.Put("tiny", "a", 1)
	c.Put("tiny", "b", 2)
	c.Put("tiny", "c", 3) // evicts the least recently used

	var present int
	for _, k := range []string{"a", "b", "c"} {
		if _, ok := c.Get("tiny", k); ok {
			present++
		}
	}
	if present != 2 {
		t.Errorf("%d entries present; want 2 after eviction", present)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 100 {
				key := string(rune('a' + (i+j)%26))
				c.Put(NamespaceKeyList, key, j)
				c.Get(NamespaceKeyList, key)
				if j%25 == 0 {
					c.Invalidate(NamespaceKeyList)
				}
			}
		}(i)
	}
	wg.Wait()
}
