package appendonly

import (
	"fmt"

	"sessionstore/internal/conflict"
)

// Resolve merges concurrent inserts into an append-only mapping.
//
// A branch that emptied a previously non-empty mapping cleared it; clear and
// append cannot be reconciled. Otherwise the result is old plus every key
// either branch inserted. A key inserted by both branches is a conflict even
// when both values are equal, since two writers chose the same key for
// distinct inserts. None of the inputs is modified.
func Resolve[K comparable, V any](old, committed, new map[K]V) (map[K]V, error) {
	if len(old) > 0 && (len(committed) == 0 || len(new) == 0) {
		return nil, conflict.Newf("can't resolve clear of append-only map")
	}

	result := clone(old)
	inserted := make(map[K]struct{})

	for k, v := range committed {
		if _, ok := old[k]; ok {
			continue
		}
		inserted[k] = struct{}{}
		result[k] = v
	}

	for k, v := range new {
		if _, ok := old[k]; ok {
			continue
		}
		if _, ok := inserted[k]; ok {
			return nil, &conflict.Error{
				Reason:    fmt.Sprintf("conflicting insert of key %v", k),
				Committed: committed[k],
				New:       v,
			}
		}
		result[k] = v
	}

	return result, nil
}

// Resolver returns Resolve as a conflict.Resolver for registration with the
// object store.
func Resolver[K comparable, V any]() conflict.Resolver[map[K]V] {
	return conflict.ResolverFunc[map[K]V](Resolve[K, V])
}
