package priority

import (
	"math"
	"testing"
)

func names[T any](entries []Entry[T]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestOrderedByPriority(t *testing.T) {
	c := New[string](false)
	c.Add("low", 1, "l")
	c.Add("high", 10, "h")
	c.Add("mid", 5, "m")

	got := names(c.Ordered())
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, got)
		}
	}
}

func TestDisabledSortLast(t *testing.T) {
	c := New[string](false)
	c.Add("off", math.NaN(), "x")
	c.Add("on", 0, "y")

	got := names(c.Ordered())
	if got[0] != "on" || got[1] != "off" {
		t.Errorf("Disabled component should sort last, got %v", got)
	}
	if Enabled(math.NaN()) {
		t.Error("NaN priority should report disabled")
	}
}

func TestInsertionOrderOverride(t *testing.T) {
	c := New[string](true)
	c.Add("first", 1, "a")
	c.Add("second", 100, "b")

	got := names(c.Ordered())
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("Expected insertion order, got %v", got)
	}
}

func TestAddIdempotent(t *testing.T) {
	c := New[string](false)
	c.Add("a", 5, "v1")
	c.Add("b", 3, "v2")
	c.Add("a", 5, "v3")

	got := c.Ordered()
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].Name != "a" || got[0].Value != "v3" {
		t.Errorf("Re-added entry should keep its position with the new value, got %+v", got[0])
	}
}

type fakeCache struct {
	m map[string]any
}

func (f *fakeCache) ComputeIfAbsent(key string, build func() any) any {
	if v, ok := f.m[key]; ok {
		return v
	}
	v := build()
	f.m[key] = v
	return v
}

func TestForSessionCaches(t *testing.T) {
	c := New[string](false)
	c.Add("a", 1, "x")
	cache := &fakeCache{m: make(map[string]any)}

	first := c.ForSession(cache, "components")
	c.Add("b", 2, "y")
	second := c.ForSession(cache, "components")

	if len(second) != len(first) {
		t.Error("Cached ordering should not observe later additions")
	}
}
