package db

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const migrationsLogPrefix = "db:migrations"

//go:embed schema/*.sql
var embeddedSchema embed.FS

// LoadMigrationFiles reads all .sql files from dir, sorted by name, and
// returns their contents. An empty dir selects the migrations compiled into
// the binary.
func LoadMigrationFiles(dir string) ([]string, error) {
	var fsys fs.FS
	source := dir
	if dir == "" {
		sub, err := fs.Sub(embeddedSchema, "schema")
		if err != nil {
			return nil, fmt.Errorf("%s - failed to open embedded schema: %w", migrationsLogPrefix, err)
		}
		fsys = sub
		source = "embedded schema"
	} else {
		fsys = os.DirFS(dir)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, source, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s from %s: %w", migrationsLogPrefix, name, source, err)
		}
		out = append(out, string(data))
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), source))
	return out, nil
}
