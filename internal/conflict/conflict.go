package conflict

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrConflict marks a write/write race that cannot be merged automatically.
	// The losing transaction must retry against fresh state.
	ErrConflict = errors.New("irreconcilable conflict")

	// ErrInvalidMutation marks an attempt to break a container's contract
	// outside of conflict resolution (overwriting or deleting an append-only
	// key). It is a programming error and must not be retried.
	ErrInvalidMutation = errors.New("invalid mutation")
)

// Error describes a conflict detected by a resolver. Committed and New hold
// the diverging values for diagnostics; either may be nil.
type Error struct {
	Reason    string
	Committed any
	New       any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.Reason)
}

// Unwrap lets errors.Is(err, ErrConflict) match.
func (e *Error) Unwrap() error {
	return ErrConflict
}

// Detail renders the reason followed by both conflicting values.
func (e *Error) Detail() string {
	if e.Committed == nil && e.New == nil {
		return e.Reason
	}
	var b strings.Builder
	b.WriteString(e.Reason)
	b.WriteString(":\n")
	b.WriteString(Dump(e.Committed))
	b.WriteString("----\n")
	b.WriteString(Dump(e.New))
	return b.String()
}

// Newf returns a conflict without attached values.
func Newf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is, or wraps, an irreconcilable conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidMutation reports whether err is, or wraps, an invalid mutation.
func IsInvalidMutation(err error) bool {
	return errors.Is(err, ErrInvalidMutation)
}

// dumper sorts map keys so the same state always renders the same way.
var dumper = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump pretty-prints v deterministically.
func Dump(v any) string {
	return dumper.Sdump(v)
}
