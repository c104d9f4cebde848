// Package migrations holds the SQL schema, embedded so the api binary, reportctl and the
// integration tests all apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
