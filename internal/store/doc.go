// Package store defines the entity store contract for task entries.
// It owns the persistence interfaces, the pagination cursor encoding and the
// store error taxonomy, keeping callers independent of the database in use.
// The PostgreSQL implementation lives in internal/platform/postgres.
package store
