package lookup

import "sessionstore/internal/session"

// Transient holds per-package data that disappears with the request. It is
// not safe for concurrent use.
type Transient struct {
	data map[string]session.Payload
}

// NewTransient returns an empty transient session.
func NewTransient() *Transient {
	return &Transient{data: make(map[string]session.Payload)}
}

// Get returns the data of pkg, or def when the package has none.
func (t *Transient) Get(pkg string, def session.Payload) session.Payload {
	if p, ok := t.data[pkg]; ok {
		return p
	}
	return def
}

// Data returns the data of pkg, creating it on first use.
func (t *Transient) Data(pkg string) session.Payload {
	p, ok := t.data[pkg]
	if !ok {
		p = session.Payload{}
		t.data[pkg] = p
	}
	return p
}
