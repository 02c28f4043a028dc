// Package migrations holds the embedded schema for each SQL backend.
package migrations

import "embed"

// Postgres contains the PostgreSQL schema files.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite contains the SQLite schema files.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
