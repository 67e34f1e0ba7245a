// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx driver. Schema changes are embedded goose
// migrations applied with Migrate.
//
// The task lease is a single UPDATE over a FOR UPDATE SKIP LOCKED
// selection, so concurrent schedulers never lease the same row.
package postgres
