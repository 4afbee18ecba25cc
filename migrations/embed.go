// Package migrations embeds the decision log schema for golang-migrate.
package migrations

import "embed"

// FS holds the SQL migration files compiled into the binary, so brokkrctl
// can migrate a database without shipping the files separately.
//
//go:embed *.sql
var FS embed.FS
