// Package migrations applies the embedded schema migrations for the SQL
// conversation stores.
package migrations

import "embed"

//go:embed sqlite postgres
var sqlMigrations embed.FS
