package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every embedded migration in file name order. Migrations are
// idempotent and run on each start.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		queries := strings.TrimSpace(string(data))
		if queries == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, queries); err != nil {
			return fmt.Errorf("apply %s: %w", file, err)
		}
		log.Printf("postgres: applied migration %s", file)
	}
	return nil
}
