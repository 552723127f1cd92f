package migrate

import (
	"embed"
	"io/fs"
)

// SourceDir is where new migration files are written by `cmd/migrate -cmd=create`.
const SourceDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Files exposes the compiled-in migrations rooted at the migrations directory.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
