// Package conflict defines the error taxonomy and the three-way merge
// capability shared by every entity the object store can resolve. A resolver
// receives the common ancestor state (old), the state committed by the winning
// transaction (committed) and the state the losing transaction tries to commit
// (new). It either returns a merged state or an error wrapping ErrConflict.
package conflict
