package storage

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"sessionstore/internal/conflict"
	"sessionstore/internal/metrics"
)

type snapshot struct {
	kind   Kind
	serial uint64
	state  any
}

// Txn is a unit of work against a Store. The first read of an object pins
// the committed state the transaction starts from; later reads return the
// same state or the transaction's own write. A Txn is not safe for
// concurrent use.
type Txn struct {
	store  *Store
	reads  map[OID]snapshot
	writes map[OID]any
	added  map[OID]*object
	done   bool
}

// Get returns the state of oid as seen by this transaction.
func (t *Txn) Get(oid OID) (any, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if state, ok := t.writes[oid]; ok {
		return state, nil
	}
	if obj, ok := t.added[oid]; ok {
		return obj.state, nil
	}
	snap, err := t.read(oid)
	if err != nil {
		return nil, err
	}
	return snap.state, nil
}

// Put buffers a new state for oid.
func (t *Txn) Put(oid OID, state any) error {
	if t.done {
		return ErrTxnDone
	}
	if obj, ok := t.added[oid]; ok {
		obj.state = state
		return nil
	}
	if _, err := t.read(oid); err != nil {
		return err
	}
	t.writes[oid] = state
	return nil
}

// Add creates an object that becomes visible to others when the
// transaction commits.
func (t *Txn) Add(kind Kind, state any) (OID, error) {
	if t.done {
		return 0, ErrTxnDone
	}
	oid := t.store.allocOID()
	t.added[oid] = &object{kind: kind, state: state}
	return oid, nil
}

// Dirty reports whether the transaction has anything to commit.
func (t *Txn) Dirty() bool {
	return len(t.writes) > 0 || len(t.added) > 0
}

// Abort discards the transaction.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.store.metrics.Aborts.Inc()
}

// Commit applies every buffered write atomically. For each written object
// whose committed serial moved since this transaction read it, the kind's
// resolver is asked to merge (read, committed, written). If any object cannot
// be merged nothing is applied and the error wraps conflict.ErrConflict.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	oids := make([]OID, 0, len(t.writes))
	for oid := range t.writes {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })

	final := make(map[OID]any, len(oids))
	for _, oid := range oids {
		state, err := t.merge(oid)
		if err != nil {
			s.metrics.Aborts.Inc()
			return err
		}
		final[oid] = state
	}

	s.serial++
	for oid, state := range final {
		obj := s.objects[oid]
		obj.state = state
		obj.serial = s.serial
	}
	for oid, obj := range t.added {
		obj.serial = s.serial
		s.objects[oid] = obj
	}
	s.metrics.Commits.Inc()
	return nil
}

// merge decides the state to store for oid. Caller holds s.mu.
func (t *Txn) merge(oid OID) (any, error) {
	s := t.store
	read := t.reads[oid]
	written := t.writes[oid]

	cur, ok := s.objects[oid]
	if !ok {
		return nil, &conflict.Error{Reason: fmt.Sprintf("object %d was discarded by a concurrent transaction", oid)}
	}
	if cur.serial == read.serial {
		return written, nil
	}

	resolver, ok := s.resolvers[cur.kind]
	if !ok {
		s.metrics.Conflicts.WithLabelValues(string(cur.kind), metrics.Unresolved).Inc()
		return nil, fmt.Errorf("object %d (%s): %w",
			oid, cur.kind, conflict.Newf("write conflict and no resolver registered"))
	}

	merged, err := resolver.ResolveConflict(read.state, cur.state, written)
	if err != nil {
		s.metrics.Conflicts.WithLabelValues(string(cur.kind), metrics.Unresolved).Inc()
		fields := []zap.Field{zap.Uint64("oid", uint64(oid)), zap.String("kind", string(cur.kind)), zap.Error(err)}
		var ce *conflict.Error
		if errors.As(err, &ce) {
			fields = append(fields, zap.String("detail", ce.Detail()))
		}
		s.logger.Info("unresolved write conflict", fields...)
		return nil, fmt.Errorf("object %d (%s): %w", oid, cur.kind, err)
	}

	s.metrics.Conflicts.WithLabelValues(string(cur.kind), metrics.Resolved).Inc()
	s.logger.Debug("resolved write conflict",
		zap.Uint64("oid", uint64(oid)), zap.String("kind", string(cur.kind)),
		zap.Uint64("read_serial", read.serial), zap.Uint64("committed_serial", cur.serial))
	return merged, nil
}

// read pins the committed state of oid on first access.
func (t *Txn) read(oid OID) (snapshot, error) {
	if snap, ok := t.reads[oid]; ok {
		return snap, nil
	}
	s := t.store
	s.mu.RLock()
	obj, ok := s.objects[oid]
	var snap snapshot
	if ok {
		snap = snapshot{kind: obj.kind, serial: obj.serial, state: obj.state}
	}
	s.mu.RUnlock()
	if !ok {
		return snapshot{}, fmt.Errorf("%w: %d", ErrNotFound, oid)
	}
	t.reads[oid] = snap
	return snap, nil
}

// GetAs reads oid and asserts its state type.
func GetAs[S any](t *Txn, oid OID) (S, error) {
	var zero S
	state, err := t.Get(oid)
	if err != nil {
		return zero, err
	}
	typed, ok := state.(S)
	if !ok {
		return zero, fmt.Errorf("%w: object %d holds %T", ErrStateType, oid, state)
	}
	return typed, nil
}
