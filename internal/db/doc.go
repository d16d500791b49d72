// Package db opens the punctatrack results database, applies the embedded
// schema migrations and serves the SQL debugging routes.
//
// Dependency rule: db knows nothing about tracks. Repositories that map
// domain types to tables live in internal/tracking/storage/sqlite.
package db
