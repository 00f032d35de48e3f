// Package migrations holds the schema applied by "recordchain migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
