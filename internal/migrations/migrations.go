// Package migrations embeds the goose SQL migrations so both the service and
// the test database bootstrap run the same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
