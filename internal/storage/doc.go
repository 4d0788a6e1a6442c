// Package storage provides an in-memory transactional object store with
// optimistic concurrency control. Transactions work against private views
// and buffer their writes; conflicts are detected only at commit, where the
// resolver registered for the object's kind gets a chance to merge the
// committed state with the transaction's state before the commit fails.
package storage
