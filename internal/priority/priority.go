// Package priority orders pluggable components by a numeric priority with
// an optional insertion-order override. A NaN priority disables a
// component without unregistering it.
package priority

import (
	"math"
	"sort"
)

// Entry pairs a named component with its priority. A NaN priority means
// the component is disabled.
type Entry[T any] struct {
	Name     string
	Priority float64
	Value    T

	insertionIndex int
}

// Components orders a set of named components by (enabled-first, priority
// descending, insertion index), or by pure insertion order when
// useInsertionOrder is set.
type Components[T any] struct {
	useInsertionOrder bool
	entries           []Entry[T]
	next              int
}

// New returns an empty Components set.
func New[T any](useInsertionOrder bool) *Components[T] {
	return &Components[T]{useInsertionOrder: useInsertionOrder}
}

// Add inserts a component. Adding the same (name, priority) pair again is
// idempotent with respect to the final order: the existing
// entry is replaced in place rather than appended, so re-insertion does not
// change its relative position.
func (c *Components[T]) Add(name string, priorityValue float64, value T) {
	for i := range c.entries {
		if c.entries[i].Name == name {
			c.entries[i].Priority = priorityValue
			c.entries[i].Value = value
			return
		}
	}
	c.entries = append(c.entries, Entry[T]{
		Name:           name,
		Priority:       priorityValue,
		Value:          value,
		insertionIndex: c.next,
	})
	c.next++
}

// Enabled reports whether priorityValue enables the component; a NaN
// priority disables it.
func Enabled(priorityValue float64) bool {
	return !math.IsNaN(priorityValue)
}

// Ordered returns the components in resolution order: enabled components
// first (sorted by descending priority, ties broken by insertion order),
// then disabled components in insertion order, unless useInsertionOrder is
// set, in which case the comparator degrades to insertion order only.
func (c *Components[T]) Ordered() []Entry[T] {
	out := make([]Entry[T], len(c.entries))
	copy(out, c.entries)

	sort.SliceStable(out, func(i, j int) bool {
		if c.useInsertionOrder {
			return out[i].insertionIndex < out[j].insertionIndex
		}
		ei, ej := Enabled(out[i].Priority), Enabled(out[j].Priority)
		if ei != ej {
			return ei // enabled sorts first
		}
		if !ei {
			return out[i].insertionIndex < out[j].insertionIndex
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].insertionIndex < out[j].insertionIndex
	})
	return out
}

// ForSession caches an Ordered() computation in a session data map, keyed
// by name, so repeated resolutions in the same session reuse the same
// ordering.
func (c *Components[T]) ForSession(cache interface {
	ComputeIfAbsent(key string, build func() any) any
}, key string) []Entry[T] {
	v := cache.ComputeIfAbsent(key, func() any { return c.Ordered() })
	return v.([]Entry[T])
}
