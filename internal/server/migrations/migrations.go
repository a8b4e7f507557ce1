// Package migrations embeds the goose SQL migrations of the metadata schema.
// Sharded block tables are not listed here: their number is configurable, so
// the block repository creates them on startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
