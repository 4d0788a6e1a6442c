package clock

import (
	"strconv"
	"sync/atomic"
)

// Logical is a Lamport-style counter. The zero value is ready to use and
// safe for concurrent use.
type Logical struct {
	last atomic.Int64
}

// New creates a clock whose next stamp is start+1.
func New(start int64) *Logical {
	l := &Logical{}
	l.last.Store(start)
	return l
}

// Tick returns a fresh stamp greater than every stamp returned or observed
// so far.
func (l *Logical) Tick() int64 {
	return l.last.Add(1)
}

// Observe advances the clock past ts, e.g. after loading a record stamped
// by an earlier process. It never moves the clock backwards.
func (l *Logical) Observe(ts int64) {
	for {
		cur := l.last.Load()
		if ts <= cur {
			return
		}
		if l.last.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Now returns the last stamp handed out without advancing the clock.
func (l *Logical) Now() int64 {
	return l.last.Load()
}

// String returns a string representation of the clock.
func (l *Logical) String() string {
	return "lc:" + strconv.FormatInt(l.Now(), 10)
}

// Max merges two stamps. Resolution always keeps the larger stamp so the
// outcome does not depend on which transaction committed first.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
