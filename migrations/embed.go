// Package migrations embeds the ledger schema for goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
