// Package postgres implements the store interfaces on PostgreSQL through the
// pgx driver. It owns the SQL for task entries, maps driver errors onto the
// store error taxonomy and embeds the goose schema migrations.
package postgres
