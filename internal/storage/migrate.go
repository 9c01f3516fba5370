package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ApplyMigrations executes every *.sql file under dir in lexical order.
// The scripts are written to be re-runnable.
func (s *Store) ApplyMigrations(ctx context.Context, dir string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations found in %s", dir)
	}
	sort.Strings(files)

	applied := make([]string, 0, len(files))
	for _, file := range files {
		script, readErr := os.ReadFile(file)
		if readErr != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, readErr)
		}
		// no arguments, so pgx sends the script over the simple protocol
		if _, execErr := pool.Exec(ctx, string(script)); execErr != nil {
			return applied, fmt.Errorf("apply migration %s: %w", filepath.Base(file), execErr)
		}
		applied = append(applied, filepath.Base(file))
	}
	return applied, nil
}
