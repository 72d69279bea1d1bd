// Package migrations embeds the bootstrap schema of the catalog database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
