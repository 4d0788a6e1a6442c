// Package registry implements the session data manager: a time-indexed chain
// of append-only buckets mapping (client id, package id) to session records
// stored in the object store.
//
// The head bucket receives every new or recently used session. When the head
// is older than the rotation period a fresh empty head is pushed; buckets
// older than timeout+period are discarded together with the records only they
// reference. Because buckets are append-only, concurrent registrations of
// different sessions in the same bucket merge at commit instead of retrying.
package registry
