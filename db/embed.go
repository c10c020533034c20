package db

import "embed"

// MigrationsFS holds the SQL migration files compiled into the binary, so
// `flowdeskd migrate` needs no files on disk.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
