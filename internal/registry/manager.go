package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionstore/internal/appendonly"
	"sessionstore/internal/clock"
	"sessionstore/internal/conflict"
	"sessionstore/internal/metrics"
	"sessionstore/internal/session"
	"sessionstore/internal/storage"
)

// Object kinds stored by the manager.
const (
	BucketKind storage.Kind = "session.bucket"
	RecordKind storage.Kind = "session.record"
)

// Defaults for a freshly created manager.
const (
	DefaultTimeout = 1 * time.Hour
	DefaultPeriod  = 10 * time.Minute
)

// Ident identifies one session: a client's data for one package.
type Ident struct {
	ClientID  string
	PackageID string
}

// String returns "client/package".
func (i Ident) String() string {
	return i.ClientID + "/" + i.PackageID
}

// Bucket is the stored state of one index bucket.
type Bucket = map[Ident]storage.OID

// BucketInfo describes one node of the bucket chain.
type BucketInfo struct {
	Created time.Time
	OID     storage.OID
}

type node struct {
	created time.Time
	bucket  storage.OID
	next    *node
}

// Manager owns the bucket chain. It is safe for concurrent use; each caller
// brings its own transaction.
type Manager struct {
	store   *storage.Store
	clock   *clock.Logical
	timeout time.Duration
	period  time.Duration
	nonlazy bool
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	head *node

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets how long unused sessions are kept.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithPeriod sets the bucket rotation resolution. Zero disables rotation.
func WithPeriod(d time.Duration) Option {
	return func(m *Manager) { m.period = d }
}

// WithNonlazy makes every Get and Query rotate and expire buckets first.
func WithNonlazy(nonlazy bool) Option {
	return func(m *Manager) { m.nonlazy = nonlazy }
}

// WithNow replaces the wall clock used for rotation and access times.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithClock sets the logical clock that stamps session writes.
func WithClock(c *clock.Logical) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the instruments rotations and expiries are counted on.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New installs the bucket and record resolvers into store and creates the
// first head bucket.
func New(store *storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		clock:   clock.New(0),
		timeout: DefaultTimeout,
		period:  DefaultPeriod,
		nonlazy: true,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}

	if !store.HasResolver(BucketKind) {
		store.RegisterResolver(BucketKind, storage.Typed(appendonly.Resolver[Ident, storage.OID]()))
	}
	if !store.HasResolver(RecordKind) {
		store.RegisterResolver(RecordKind, storage.Typed(session.Resolver()))
	}

	m.mu.Lock()
	m.head = m.newNode(m.now(), nil)
	m.metrics.Buckets.Set(1)
	m.mu.Unlock()
	return m
}

// Timeout returns the session staleness timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Period returns the rotation resolution.
func (m *Manager) Period() time.Duration { return m.period }

// Nonlazy reports whether accesses rotate and expire eagerly.
func (m *Manager) Nonlazy() bool { return m.nonlazy }

// Get returns the session for ident, creating it in the head bucket when no
// bucket knows it.
func (m *Manager) Get(txn *storage.Txn, ident Ident) (*Data, error) {
	d, head, found, err := m.lookup(txn, ident)
	if err != nil || found {
		return d, err
	}

	now := m.now()
	rec := session.NewRecord(m.clock.Tick(), now)
	oid, err := txn.Add(RecordKind, rec)
	if err != nil {
		return nil, err
	}
	if err := m.register(txn, ident, oid, head); err != nil {
		return nil, err
	}
	m.logger.Debug("created session", zap.Stringer("ident", ident), zap.Uint64("oid", uint64(oid)))
	return &Data{txn: txn, oid: oid, ident: ident, rec: rec, clock: m.clock}, nil
}

// Query returns the session for ident if one exists.
func (m *Manager) Query(txn *storage.Txn, ident Ident) (*Data, bool, error) {
	d, _, found, err := m.lookup(txn, ident)
	return d, found, err
}

// Clear discards every bucket and the sessions they index, leaving a single
// empty head bucket.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []*node
	for n := m.head; n != nil; n = n.next {
		dropped = append(dropped, n)
	}
	m.head = m.newNode(m.now(), nil)
	m.forget(dropped, nil)

	m.metrics.Clears.Inc()
	m.metrics.Buckets.Set(1)
	m.logger.Info("cleared session data", zap.Int("buckets", len(dropped)))
}

// Buckets lists the chain from head to tail.
func (m *Manager) Buckets() []BucketInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BucketInfo
	for n := m.head; n != nil; n = n.next {
		out = append(out, BucketInfo{Created: n.created, OID: n.bucket})
	}
	return out
}

// Sessions counts the distinct sessions indexed by committed buckets.
func (m *Manager) Sessions() int {
	seen := make(map[Ident]struct{})
	for _, b := range m.Buckets() {
		entries, err := m.loadBucket(b.OID)
		if err != nil {
			continue
		}
		for ident := range entries {
			seen[ident] = struct{}{}
		}
	}
	return len(seen)
}

// Maintain pushes a new head bucket when the current one is older than the
// period, and discards buckets older than timeout+period.
func (m *Manager) Maintain(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.period > 0 && now.Sub(m.head.created) >= m.period {
		m.head = m.newNode(now, m.head)
		m.metrics.Rotations.Inc()
		m.metrics.Buckets.Inc()
		m.logger.Debug("rotated session bucket", zap.Uint64("oid", uint64(m.head.bucket)))
	}

	var dropped []*node
	for n := m.head; n.next != nil; n = n.next {
		if now.Sub(n.next.created) >= m.timeout+m.period {
			for d := n.next; d != nil; d = d.next {
				dropped = append(dropped, d)
			}
			n.next = nil
			break
		}
	}
	if len(dropped) == 0 {
		return
	}

	var kept []storage.OID
	for n := m.head; n != nil; n = n.next {
		kept = append(kept, n.bucket)
	}
	m.forget(dropped, kept)
	m.metrics.Expired.Add(float64(len(dropped)))
	m.metrics.Buckets.Set(float64(len(kept)))
	m.logger.Info("expired session buckets", zap.Int("buckets", len(dropped)))
}

// Start runs Maintain every period until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	if m.period <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Maintain(m.now())
			}
		}
	}()
}

// Stop halts the background maintenance started by Start.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// lookup walks the chain from head to tail and also returns the head bucket
// it walked from. A session found in an older bucket is re-registered in the
// head bucket so it survives expiry.
func (m *Manager) lookup(txn *storage.Txn, ident Ident) (*Data, storage.OID, bool, error) {
	now := m.now()
	if m.nonlazy {
		m.Maintain(now)
	}

	chain := m.Buckets()
	head := chain[0].OID
	for i, b := range chain {
		entries, err := storage.GetAs[Bucket](txn, b.OID)
		if errors.Is(err, storage.ErrNotFound) {
			// expired or cleared after the chain was read
			continue
		}
		if err != nil {
			return nil, head, false, err
		}
		oid, ok := entries[ident]
		if !ok {
			continue
		}

		rec, err := storage.GetAs[session.Record](txn, oid)
		if errors.Is(err, storage.ErrNotFound) {
			// A bucket never outlives the records it indexes unless a
			// Clear or expiry raced with this transaction.
			return nil, head, false, conflict.Newf("session %s indexed by bucket %d has no record %d", ident, b.OID, oid)
		}
		if err != nil {
			return nil, head, false, err
		}

		if i > 0 {
			if err := m.register(txn, ident, oid, head); err != nil {
				return nil, head, false, err
			}
		}
		if m.needsTouch(rec, now) {
			rec = rec.Touch(now)
			if err := txn.Put(oid, rec); err != nil {
				return nil, head, false, err
			}
		}
		m.clock.Observe(rec.LastModified)
		return &Data{txn: txn, oid: oid, ident: ident, rec: rec, clock: m.clock}, head, true, nil
	}
	return nil, head, false, nil
}

// register inserts ident into head, which must still be the current head
// bucket. A rotation or Clear since the chain was walked is a conflict.
func (m *Manager) register(txn *storage.Txn, ident Ident, oid, head storage.OID) error {
	m.mu.Lock()
	current := m.head.bucket
	m.mu.Unlock()
	if current != head {
		return conflict.Newf("head bucket moved from %d to %d", head, current)
	}

	entries, err := storage.GetAs[Bucket](txn, head)
	if errors.Is(err, storage.ErrNotFound) {
		return conflict.Newf("head bucket %d was discarded", head)
	}
	if err != nil {
		return fmt.Errorf("read head bucket: %w", err)
	}
	b := appendonly.From(entries)
	if err := b.Insert(ident, oid); err != nil {
		return err
	}
	return txn.Put(head, b.Snapshot())
}

// needsTouch limits access-time writes to one per period.
func (m *Manager) needsTouch(rec session.Record, now time.Time) bool {
	return m.period > 0 && now.Sub(rec.LastAccessed) >= m.period
}

func (m *Manager) newNode(now time.Time, next *node) *node {
	return &node{
		created: now,
		bucket:  m.store.Create(BucketKind, Bucket{}),
		next:    next,
	}
}

func (m *Manager) loadBucket(oid storage.OID) (Bucket, error) {
	state, _, err := m.store.Load(oid)
	if err != nil {
		return nil, err
	}
	b, ok := state.(Bucket)
	if !ok {
		return nil, fmt.Errorf("%w: bucket %d holds %T", storage.ErrStateType, oid, state)
	}
	return b, nil
}

// forget drops the dropped buckets and every record they reference that no
// kept bucket references. Caller holds m.mu.
func (m *Manager) forget(dropped []*node, kept []storage.OID) {
	live := make(map[storage.OID]struct{})
	for _, oid := range kept {
		entries, err := m.loadBucket(oid)
		if err != nil {
			continue
		}
		for _, rec := range entries {
			live[rec] = struct{}{}
		}
	}

	var oids []storage.OID
	for _, n := range dropped {
		oids = append(oids, n.bucket)
		entries, err := m.loadBucket(n.bucket)
		if err != nil {
			continue
		}
		for _, rec := range entries {
			if _, ok := live[rec]; !ok {
				oids = append(oids, rec)
			}
		}
	}
	m.store.Forget(oids...)
}
