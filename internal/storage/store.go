package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"sessionstore/internal/conflict"
	"sessionstore/internal/metrics"
)

var (
	// ErrNotFound is returned for an object that does not exist or was forgotten.
	ErrNotFound = errors.New("object not found")
	// ErrTxnDone is returned when a committed or aborted transaction is reused.
	ErrTxnDone = errors.New("transaction already finished")
	// ErrStateType is returned when a stored state does not have the requested type.
	ErrStateType = errors.New("unexpected state type")
)

// OID identifies a persistent object.
type OID uint64

// Kind names an entity type. Resolvers are registered per kind.
type Kind string

// Resolver merges untyped states of one kind. See Typed for the usual way to
// build one from a conflict.Resolver.
type Resolver interface {
	ResolveConflict(old, committed, new any) (any, error)
}

type typedResolver[S any] struct {
	r conflict.Resolver[S]
}

func (t typedResolver[S]) ResolveConflict(old, committed, new any) (any, error) {
	o, ok1 := old.(S)
	c, ok2 := committed.(S)
	n, ok3 := new.(S)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: resolving %T/%T/%T", ErrStateType, old, committed, new)
	}
	return t.r.Resolve(o, c, n)
}

// Typed wraps a typed resolver for registration with a Store.
func Typed[S any](r conflict.Resolver[S]) Resolver {
	return typedResolver[S]{r: r}
}

// object is one committed state. States are treated as immutable values:
// writers hand in new states instead of mutating what they read.
type object struct {
	kind   Kind
	serial uint64
	state  any
}

// Store holds committed object states.
type Store struct {
	mu        sync.RWMutex
	objects   map[OID]*object
	resolvers map[Kind]Resolver
	serial    uint64 // last commit serial

	nextOID    atomic.Uint64
	maxRetries int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the instruments commits and conflicts are counted on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithMaxRetries bounds the number of attempts Run makes.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Open creates an empty store.
func Open(opts ...Option) *Store {
	s := &Store{
		objects:    make(map[OID]*object),
		resolvers:  make(map[Kind]Resolver),
		maxRetries: 5,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// RegisterResolver installs the conflict resolver for every object of kind.
// Objects of a kind without a resolver fail on any write/write race.
func (s *Store) RegisterResolver(kind Kind, r Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvers[kind] = r
}

// HasResolver reports whether kind has a resolver.
func (s *Store) HasResolver(kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.resolvers[kind]
	return ok
}

// Create commits a new object outside of any transaction.
func (s *Store) Create(kind Kind, state any) OID {
	oid := s.allocOID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial++
	s.objects[oid] = &object{kind: kind, serial: s.serial, state: state}
	return oid
}

// Load returns the latest committed state of oid and its serial.
func (s *Store) Load(oid OID) (any, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[oid]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrNotFound, oid)
	}
	return obj.state, obj.serial, nil
}

// Forget drops objects. Transactions that still write them fail at commit.
func (s *Store) Forget(oids ...OID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, oid := range oids {
		delete(s.objects, oid)
	}
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Begin starts a transaction.
func (s *Store) Begin() *Txn {
	return &Txn{
		store:  s,
		reads:  make(map[OID]snapshot),
		writes: make(map[OID]any),
		added:  make(map[OID]*object),
	}
}

// Run executes fn in a transaction and commits it. When fn or the commit
// fails with an irreconcilable conflict, fn is run again in a fresh
// transaction, up to the configured number of attempts. Any other error is
// returned at once.
func (s *Store) Run(ctx context.Context, fn func(*Txn) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		txn := s.Begin()
		if err = fn(txn); err != nil {
			txn.Abort()
		} else {
			err = txn.Commit()
		}
		if err == nil {
			return nil
		}
		if !conflict.IsConflict(err) {
			return err
		}

		if attempt < s.maxRetries {
			s.metrics.Retries.Inc()
			s.logger.Debug("retrying transaction after conflict",
				zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", s.maxRetries, err)
}

func (s *Store) allocOID() OID {
	return OID(s.nextOID.Add(1))
}
