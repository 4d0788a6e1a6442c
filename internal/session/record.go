package session

import (
	"time"

	"sessionstore/internal/clock"
)

// Payload holds application-supplied entries.
type Payload map[string]any

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Record is the persisted state of one session.
type Record struct {
	Data         Payload
	LastModified int64
	LastAccessed time.Time
	Invalid      bool
}

// NewRecord returns an empty record stamped at lm.
func NewRecord(lm int64, now time.Time) Record {
	return Record{
		Data:         Payload{},
		LastModified: lm,
		LastAccessed: now,
	}
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.Data[key]
	return v, ok
}

// Len returns the number of payload entries.
func (r Record) Len() int {
	return len(r.Data)
}

// With returns a copy of r with key set to value, stamped by c.
func (r Record) With(key string, value any, c *clock.Logical) Record {
	out := r.clone()
	out.Data[key] = value
	out.LastModified = c.Tick()
	return out
}

// Without returns a copy of r with key removed, stamped by c. Removing an
// absent key still counts as a write.
func (r Record) Without(key string, c *clock.Logical) Record {
	out := r.clone()
	delete(out.Data, key)
	out.LastModified = c.Tick()
	return out
}

// Invalidate returns a copy of r flagged invalid, stamped by c.
func (r Record) Invalidate(c *clock.Logical) Record {
	out := r.clone()
	out.Invalid = true
	out.LastModified = c.Tick()
	return out
}

// Touch returns a copy of r with LastAccessed set to now. It is bookkeeping,
// not a write: LastModified is left alone.
func (r Record) Touch(now time.Time) Record {
	out := r.clone()
	out.LastAccessed = now
	return out
}

func (r Record) clone() Record {
	out := r
	out.Data = r.Data.Clone()
	return out
}
