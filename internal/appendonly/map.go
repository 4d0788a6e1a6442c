package appendonly

import (
	"errors"
	"fmt"
	"reflect"

	"sessionstore/internal/conflict"
)

// ErrKeyNotFound is returned by Delete for a key that was never inserted.
var ErrKeyNotFound = errors.New("key not found")

// Map is an insert-only mapping. Once a key is present its value can never be
// reassigned or removed. Map is not safe for concurrent use; the object store
// hands each transaction its own copy.
type Map[K comparable, V any] struct {
	data map[K]V
}

// New creates an empty map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{data: make(map[K]V)}
}

// From creates a map holding a copy of the given entries. It is used to lift a
// stored snapshot back into a mutable container.
func From[K comparable, V any](entries map[K]V) *Map[K, V] {
	return &Map[K, V]{data: clone(entries)}
}

// Insert adds key with value. Inserting an existing key, or a value of a
// mutable container kind (map, slice), is an invalid mutation.
func (m *Map[K, V]) Insert(key K, value V) error {
	if _, exists := m.data[key]; exists {
		return fmt.Errorf("%w: cannot update key %v in append-only map", conflict.ErrInvalidMutation, key)
	}
	if isMutable(value) {
		return fmt.Errorf("%w: cannot add mutable %T value for key %v", conflict.ErrInvalidMutation, value, key)
	}
	m.data[key] = value
	return nil
}

// Delete always fails: removing a present key is an invalid mutation, and
// removing an absent one reports ErrKeyNotFound.
func (m *Map[K, V]) Delete(key K) error {
	if _, exists := m.data[key]; exists {
		return fmt.Errorf("%w: cannot delete key %v from append-only map", conflict.ErrInvalidMutation, key)
	}
	return fmt.Errorf("%w: %v", ErrKeyNotFound, key)
}

// Get returns the value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.data[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.data[key]
	return ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// Range calls fn for every entry in unspecified order until fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}

// Snapshot returns a copy of the entries, suitable for handing to the object
// store as an immutable state.
func (m *Map[K, V]) Snapshot() map[K]V {
	return clone(m.data)
}

func clone[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func isMutable(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}
