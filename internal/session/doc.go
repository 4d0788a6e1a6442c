// Package session defines the stored form of one logical session and its
// conflict resolver.
//
// A Record is a plain value: every mutator returns a new Record and leaves
// the receiver untouched, which lets the object store treat records as
// immutable snapshots. LastModified is a logical stamp bumped by every write
// to the payload; Invalid is sticky and survives every merge.
//
// Resolve trades precision for availability. It never merges divergent
// payloads, but when only one branch wrote (equal stamps) or both branches
// wrote the same content, the commit proceeds without a retry. Payload
// values must be comparable with == or implement conflict.Equaler; anything
// else makes every concurrent pair of writes to that session conflict.
package session
