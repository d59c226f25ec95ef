package migrations

import "embed"

// FS contains embedded SQLite migrations for bucket and ID range storage.
//
//go:embed *.sql
var FS embed.FS
