// Package migrations embeds the SQL schema applied by `deelflow migrate`.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
