// Package migrations contains embedded SQLite migrations for world storage.
package migrations

import "embed"

// FS contains the migration files, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
