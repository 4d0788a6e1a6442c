// Package appendonly provides an insert-only mapping and the three-way merge
// that makes concurrent inserts into it conflict-free. Session index buckets
// are stored as append-only mappings so that two transactions registering
// different sessions in the same bucket never force a retry.
package appendonly
