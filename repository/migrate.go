package repository

import (
	"context"
	"io/fs"
	"sort"
	"strings"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/uptrace/bun"
)

const migrationsDir = "data/sql/migrations"

// Migrate applies the bundled up migrations in file name order. Statements
// are split on the bun split marker and every statement is idempotent.
func Migrate(ctx context.Context, db bun.IDB) error {
	migrations := auth.GetMigrationsFS()
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrations, migrationsDir+"/"+name)
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), "--bun:split") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}
