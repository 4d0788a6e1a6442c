// Package clock provides the logical clock that stamps session writes.
// Stamps are unique and strictly increasing for the lifetime of a Logical,
// so two writes that started from the same ancestor never carry the same
// last-modified value, and an unchanged stamp proves a branch did not write.
package clock
