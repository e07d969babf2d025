// Package sqlite provides SQLite-backed operational-store persistence.
//
// It is the default on-disk store for grants, consents, and client/resource
// registration used by the identity service and cleanup tooling.
package sqlite
