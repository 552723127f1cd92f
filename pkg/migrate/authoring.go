package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	errNameRequired = errors.New("migration name is required")
)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// NewSQLMigration writes an empty goose migration named <version>_<slug>.sql into dir.
func NewSQLMigration(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
	if slug == "" {
		return "", errNameRequired
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", now.UTC().Format(versionLayout), slug))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

// Validate checks names, version uniqueness and goose annotations of every .sql file in fsys.
func Validate(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	versions := make(map[string]string)
	var problems []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			problems = append(problems, fmt.Sprintf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := versions[match[1]]; dup {
			problems = append(problems, fmt.Sprintf("%s: version %s already used by %s", name, match[1], prev))
			continue
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				problems = append(problems, fmt.Sprintf("%s: missing %q", name, marker))
			}
		}
	}

	if len(versions) == 0 && len(problems) == 0 {
		return errors.New("no migrations found")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid migrations:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
