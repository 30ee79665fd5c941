// Package migrations embeds the tenant schema SQL applied by "migrate up" and
// "tenant create".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
