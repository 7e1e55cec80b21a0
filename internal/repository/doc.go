// Package repository implements workflow.Repository.
//
// Postgres is the durable implementation backed by a pgx connection pool and
// an embedded schema applied by Migrate. Memory holds workflows in process
// and is loaded from JSON fixtures by the CLI and by tests.
package repository
