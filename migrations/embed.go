// Package migrations embeds the goose SQL migrations for every database
// the module manages.
package migrations

import "embed"

// Directories inside FS, one per database.
const (
	LocalDir    = "local"
	CentralDir  = "central"
	PostgresDir = "postgres"
)

//go:embed local/*.sql central/*.sql postgres/*.sql
var FS embed.FS
