package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sessionstore/internal/conflict"
	"sessionstore/internal/metrics"
)

const counterKind Kind = "counter"

// sumResolver merges integer deltas from both branches.
var sumResolver = Typed[int](conflict.ResolverFunc[int](func(old, committed, new int) (int, error) {
	return committed + new - old, nil
}))

func TestTxn_GetPutCommit(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, 1)

	txn := store.Begin()
	v, err := GetAs[int](txn, oid)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, txn.Put(oid, 2))
	assert.True(t, txn.Dirty())

	// not visible before commit
	state, _, err := store.Load(oid)
	require.NoError(t, err)
	assert.Equal(t, 1, state)

	// own write visible inside the transaction
	v, err = GetAs[int](txn, oid)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	require.NoError(t, txn.Commit())
	state, _, err = store.Load(oid)
	require.NoError(t, err)
	assert.Equal(t, 2, state)
}

func TestTxn_NotFound(t *testing.T) {
	store := Open()
	txn := store.Begin()

	_, err := txn.Get(42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, txn.Put(42, 1), ErrNotFound)

	_, _, err = store.Load(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTxn_StateType(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, "not an int")

	_, err := GetAs[int](store.Begin(), oid)
	assert.ErrorIs(t, err, ErrStateType)
}

func TestTxn_FinishedTransactionRejected(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, 1)

	txn := store.Begin()
	require.NoError(t, txn.Commit())

	assert.ErrorIs(t, txn.Commit(), ErrTxnDone)
	assert.ErrorIs(t, txn.Put(oid, 3), ErrTxnDone)
	_, err := txn.Get(oid)
	assert.ErrorIs(t, err, ErrTxnDone)
	_, err = txn.Add(counterKind, 0)
	assert.ErrorIs(t, err, ErrTxnDone)
}

func TestTxn_PrivateView(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, 1)

	reader := store.Begin()
	_, err := reader.Get(oid)
	require.NoError(t, err)

	writer := store.Begin()
	require.NoError(t, writer.Put(oid, 5))
	require.NoError(t, writer.Commit())

	v, err := GetAs[int](reader, oid)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "pinned state must not change under a running transaction")
}

func TestTxn_Add(t *testing.T) {
	store := Open()

	txn := store.Begin()
	oid, err := txn.Add(counterKind, 7)
	require.NoError(t, err)
	require.NoError(t, txn.Put(oid, 8))

	_, _, err = store.Load(oid)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, txn.Commit())
	state, _, err := store.Load(oid)
	require.NoError(t, err)
	assert.Equal(t, 8, state)
	assert.Equal(t, 1, store.Len())
}

func TestCommit_ConflictWithoutResolver(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, 0)

	a, b := store.Begin(), store.Begin()
	require.NoError(t, a.Put(oid, 1))
	require.NoError(t, b.Put(oid, 2))

	require.NoError(t, a.Commit())
	err := b.Commit()
	assert.True(t, conflict.IsConflict(err))

	state, _, _ := store.Load(oid)
	assert.Equal(t, 1, state)
}

func TestCommit_ResolverMerges(t *testing.T) {
	m := metrics.New(nil)
	store := Open(WithMetrics(m))
	store.RegisterResolver(counterKind, sumResolver)
	assert.True(t, store.HasResolver(counterKind))
	oid := store.Create(counterKind, 10)

	a, b := store.Begin(), store.Begin()
	require.NoError(t, a.Put(oid, 11)) // +1
	require.NoError(t, b.Put(oid, 15)) // +5

	require.NoError(t, a.Commit())
	require.NoError(t, b.Commit())

	state, _, _ := store.Load(oid)
	assert.Equal(t, 16, state)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues(string(counterKind), metrics.Resolved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commits))
}

func TestCommit_AllOrNothing(t *testing.T) {
	store := Open()
	store.RegisterResolver(counterKind, sumResolver)
	merged := store.Create(counterKind, 0)
	rejected := store.Create("plain", 0)

	b := store.Begin()
	require.NoError(t, b.Put(merged, 5))
	require.NoError(t, b.Put(rejected, 2))

	a := store.Begin()
	require.NoError(t, a.Put(rejected, 1))
	require.NoError(t, a.Commit())

	err := b.Commit()
	require.True(t, conflict.IsConflict(err))

	state, _, _ := store.Load(merged)
	assert.Equal(t, 0, state, "no write may be applied when another object conflicts")
}

func TestCommit_ForgottenObjectConflicts(t *testing.T) {
	store := Open()
	oid := store.Create(counterKind, 0)

	txn := store.Begin()
	require.NoError(t, txn.Put(oid, 1))
	store.Forget(oid)

	assert.True(t, conflict.IsConflict(txn.Commit()))
}

func TestCommit_ResolverError(t *testing.T) {
	store := Open()
	store.RegisterResolver(counterKind, Typed[int](conflict.ResolverFunc[int](func(old, committed, new int) (int, error) {
		return 0, conflict.Newf("never")
	})))
	oid := store.Create(counterKind, 0)

	a, b := store.Begin(), store.Begin()
	require.NoError(t, a.Put(oid, 1))
	require.NoError(t, b.Put(oid, 2))
	require.NoError(t, a.Commit())

	err := b.Commit()
	require.ErrorIs(t, err, conflict.ErrConflict)
	assert.Contains(t, err.Error(), "never")
}

func TestCommit_UnresolvedConflictLogsBothSides(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := Open(WithLogger(zap.New(core)))
	store.RegisterResolver(counterKind, Typed[int](conflict.ResolverFunc[int](func(old, committed, new int) (int, error) {
		return 0, &conflict.Error{Reason: "diverging counters", Committed: committed, New: new}
	})))
	oid := store.Create(counterKind, 0)

	a, b := store.Begin(), store.Begin()
	require.NoError(t, a.Put(oid, 41))
	require.NoError(t, b.Put(oid, 42))
	require.NoError(t, a.Commit())
	require.Error(t, b.Commit())

	entries := logs.FilterMessage("unresolved write conflict").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(counterKind), fields["kind"])
	detail, ok := fields["detail"].(string)
	require.True(t, ok, "detail field missing: %v", fields)
	assert.Contains(t, detail, "diverging counters")
	assert.Contains(t, detail, "41")
	assert.Contains(t, detail, "42")
}

func TestRun_RetriesConflicts(t *testing.T) {
	store := Open(WithMaxRetries(3))
	oid := store.Create(counterKind, 0)

	attempts := 0
	err := store.Run(context.Background(), func(txn *Txn) error {
		attempts++
		v, err := GetAs[int](txn, oid)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// a concurrent writer sneaks in before this commit
			other := store.Begin()
			if err := other.Put(oid, 100); err != nil {
				return err
			}
			if err := other.Commit(); err != nil {
				return err
			}
		}
		return txn.Put(oid, v+1)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	state, _, _ := store.Load(oid)
	assert.Equal(t, 101, state)
}

func TestRun_GivesUp(t *testing.T) {
	store := Open(WithMaxRetries(2))

	attempts := 0
	err := store.Run(context.Background(), func(*Txn) error {
		attempts++
		return conflict.Newf("always")
	})
	assert.True(t, conflict.IsConflict(err))
	assert.Equal(t, 2, attempts)
}

func TestRun_OtherErrorsNotRetried(t *testing.T) {
	store := Open()
	boom := errors.New("boom")

	attempts := 0
	err := store.Run(context.Background(), func(*Txn) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRun_ContextCancelled(t *testing.T) {
	store := Open()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Run(ctx, func(*Txn) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ConcurrentIncrementsWithResolver(t *testing.T) {
	store := Open(WithMaxRetries(50))
	store.RegisterResolver(counterKind, sumResolver)
	oid := store.Create(counterKind, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Run(context.Background(), func(txn *Txn) error {
				v, err := GetAs[int](txn, oid)
				if err != nil {
					return err
				}
				return txn.Put(oid, v+1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, _, _ := store.Load(oid)
	assert.Equal(t, 20, state)
}
