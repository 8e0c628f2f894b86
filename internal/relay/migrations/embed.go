// Package migrations embeds the relay's goose schema migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
