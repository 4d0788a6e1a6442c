package session

import (
	"sessionstore/internal/clock"
	"sessionstore/internal/conflict"
)

// Resolve merges two concurrent writes to the same record. old is accepted
// for the three-way contract but not consulted: the logical stamps already
// tell whether a branch wrote.
func Resolve(old, committed, new Record) (Record, error) {
	if committed.LastModified != new.LastModified {
		// incomparable payloads count as unequal
		eq, err := conflict.EqualMaps(map[string]any(committed.Data), map[string]any(new.Data))
		if err != nil || !eq {
			return Record{}, &conflict.Error{
				Reason:    "competing writes to session data",
				Committed: committed.Data,
				New:       new.Data,
			}
		}
	}

	resolved := new.clone()
	resolved.Invalid = committed.Invalid || new.Invalid
	resolved.LastModified = clock.Max(committed.LastModified, new.LastModified)
	return resolved, nil
}

// Resolver returns Resolve as a conflict.Resolver.
func Resolver() conflict.Resolver[Record] {
	return conflict.ResolverFunc[Record](Resolve)
}
