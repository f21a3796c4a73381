// Package migrations embeds the SQL schema files into the binary so the
// controller can migrate its database without files on disk.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory, at its root.
//
//go:embed *.sql
var FS embed.FS
