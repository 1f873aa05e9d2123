package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	versionLayout  = "20060102150405"
	annotUp        = "-- +goose Up"
	annotDown      = "-- +goose Down"
	annotStmtBegin = "-- +goose StatementBegin"
	annotStmtEnd   = "-- +goose StatementEnd"
)

var (
	migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	unsafeNameRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

const skeleton = annotUp + `
` + annotStmtBegin + `
-- %[1]s
` + annotStmtEnd + `

` + annotDown + `
` + annotStmtBegin + `
-- rollback %[1]s
` + annotStmtEnd + `
`

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<slug>.sql and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", errors.New("dir is required")
	}
	slug := strings.Trim(unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	_, writeErr := fmt.Fprintf(f, skeleton, slug)
	if err := multierr.Combine(writeErr, f.Close()); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return path, nil
}

// ValidateDir checks every .sql file in dir and reports all problems at once:
// timestamp naming, unique versions, Up before Down, and balanced statement
// blocks.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var errs error
	versions := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(name)
		if match == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := versions[match[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, match[1], prev))
		}
		versions[match[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkAnnotations(name, string(body)))
	}
	return errs
}

func checkAnnotations(name, body string) error {
	up, down := strings.Index(body, annotUp), strings.Index(body, annotDown)
	var errs error
	switch {
	case up < 0:
		errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, annotUp))
	case down < 0:
		errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, annotDown))
	case down < up:
		errs = multierr.Append(errs, fmt.Errorf("%s: down section precedes up section", name))
	}
	if begins, ends := strings.Count(body, annotStmtBegin), strings.Count(body, annotStmtEnd); begins != ends {
		errs = multierr.Append(errs, fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, begins, ends))
	}
	return errs
}
