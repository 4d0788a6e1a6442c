package conflict

import (
	"errors"
	"fmt"
)

// ErrIncomparable is returned by Equal when two values have no defined
// equality (maps, slices, funcs, or structs containing them).
var ErrIncomparable = errors.New("values are not comparable")

// Equaler lets a value supply its own equality. Types stored in session
// payloads that are not comparable with == should implement it, otherwise
// every concurrent write touching them is treated as a conflict.
type Equaler interface {
	Equal(other any) bool
}

// Equal compares a and b. Equaler implementations on either side take
// precedence; otherwise Go's == is used. A runtime comparison panic is turned
// into ErrIncomparable so callers can treat it as "not equal".
func Equal(a, b any) (eq bool, err error) {
	if e, ok := a.(Equaler); ok {
		return e.Equal(b), nil
	}
	if e, ok := b.(Equaler); ok {
		return e.Equal(a), nil
	}
	defer func() {
		if r := recover(); r != nil {
			eq, err = false, fmt.Errorf("%w: %T vs %T", ErrIncomparable, a, b)
		}
	}()
	return a == b, nil
}

// EqualMaps compares two maps entry by entry with Equal. The first
// incomparable pair aborts the comparison with ErrIncomparable.
func EqualMaps[K comparable](a, b map[K]any) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false, nil
		}
		eq, err := Equal(av, bv)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}
