package auth

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations for the identity, tenant,
// revocation, login attempt and audit tables
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
