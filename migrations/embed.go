// Package migrations embeds the Postgres schema shared by all services.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
