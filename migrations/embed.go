// Package migrations embeds the BrokerLink SQLite schema into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files, passed to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
