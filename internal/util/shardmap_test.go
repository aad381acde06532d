package util_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/jub0bs/corsguard/internal/util"
)

func TestShardedMapUpdateIsAtomic(t *testing.T) {
	const (
		goroutines = 16
		increments = 1000
	)
	sm := util.NewShardedMap[int](4)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				sm.Update("counter", func(v int, _ bool) (int, bool) {
					return v + 1, true
				})
			}
		}()
	}
	wg.Wait()
	var (
		got   int
		found bool
	)
	sm.Update("counter", func(v int, ok bool) (int, bool) {
		got, found = v, ok
		return v, ok
	})
	if !found {
		t.Fatal("counter not found")
	}
	if want := goroutines * increments; got != want {
		t.Errorf("got %d; want %d", got, want)
	}
}

func TestShardedMapUpdateDeletes(t *testing.T) {
	sm := util.NewShardedMap[string](0)
	sm.Update("k", func(string, bool) (string, bool) { return "v", true })
	sm.Update("k", func(v string, found bool) (string, bool) {
		if !found || v != "v" {
			t.Errorf("got %q, %t; want %q, true", v, found, "v")
		}
		return "", false
	})
	if got := sm.Len(); got != 0 {
		t.Errorf("got length %d; want 0", got)
	}
}

func TestShardedMapSweep(t *testing.T) {
	sm := util.NewShardedMap[int](8)
	for i := range 100 {
		sm.Update(strconv.Itoa(i), func(int, bool) (int, bool) { return i, true })
	}
	n := sm.Sweep(func(_ string, v int) bool { return v%2 == 0 })
	if n != 50 {
		t.Errorf("got %d evictions; want 50", n)
	}
	if got := sm.Len(); got != 50 {
		t.Errorf("got length %d; want 50", got)
	}
	sm.Range(func(k string, v int) bool {
		if v%2 == 0 {
			t.Errorf("%q: even value %d survived the sweep", k, v)
		}
		return true
	})
}

func TestShardedMapRangeStopsEarly(t *testing.T) {
	sm := util.NewShardedMap[int](2)
	for i := range 10 {
		sm.Update(strconv.Itoa(i), func(int, bool) (int, bool) { return i, true })
	}
	var visited int
	sm.Range(func(string, int) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("got %d visits; want 3", visited)
	}
}
