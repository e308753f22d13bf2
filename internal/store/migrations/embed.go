// ABOUTME: Embedded goose migrations for the PostgreSQL backend
// ABOUTME: SQLite creates its schema in code; PostgreSQL versions it here

package migrations

import "embed"

// FS holds the numbered goose migration files.
//
//go:embed *.sql
var FS embed.FS
