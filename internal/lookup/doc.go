// Package lookup connects a request to its session data. A Session resolves
// data by (client id, package id) through a registry.Manager; a Transient
// keeps data only for the lifetime of one request.
package lookup
