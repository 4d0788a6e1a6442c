// Package metrics exposes Prometheus instruments for the object store and
// the session registry.
package metrics
