// Package migrations embeds SQL migration files into the binary, so the
// service can migrate without the SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source is the recorder schema, ready for database.DB.Migrate.
var Source = database.Source{FS: files, Dir: "."}
