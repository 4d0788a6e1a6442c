package registry

import (
	"sort"

	"sessionstore/internal/clock"
	"sessionstore/internal/session"
	"sessionstore/internal/storage"
)

// Data is a handle on one session record within a transaction. Writes are
// buffered in the transaction and published by its commit.
type Data struct {
	txn   *storage.Txn
	oid   storage.OID
	ident Ident
	rec   session.Record
	clock *clock.Logical
}

// Ident returns the session identity.
func (d *Data) Ident() Ident { return d.ident }

// OID returns the record's object id.
func (d *Data) OID() storage.OID { return d.oid }

// Record returns the record as seen by the transaction.
func (d *Data) Record() session.Record { return d.rec }

// Get returns the value stored under key.
func (d *Data) Get(key string) (any, bool) {
	return d.rec.Get(key)
}

// Keys returns the payload keys in sorted order.
func (d *Data) Keys() []string {
	keys := make([]string, 0, d.rec.Len())
	for k := range d.rec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set stores value under key.
func (d *Data) Set(key string, value any) error {
	return d.put(d.rec.With(key, value, d.clock))
}

// Delete removes key.
func (d *Data) Delete(key string) error {
	return d.put(d.rec.Without(key, d.clock))
}

// Invalidate flags the session invalid. The flag is never cleared.
func (d *Data) Invalidate() error {
	return d.put(d.rec.Invalidate(d.clock))
}

// Invalid reports whether the session was invalidated.
func (d *Data) Invalid() bool { return d.rec.Invalid }

// LastModified returns the logical stamp of the last write.
func (d *Data) LastModified() int64 { return d.rec.LastModified }

func (d *Data) put(rec session.Record) error {
	if err := d.txn.Put(d.oid, rec); err != nil {
		return err
	}
	d.rec = rec
	return nil
}
