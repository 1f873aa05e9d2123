package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

// Dialect maps a configured database driver to its goose dialect.
func Dialect(driver string) goose.Dialect {
	switch driver {
	case "sqlite", "sqlite3":
		return goose.DialectSQLite3
	default:
		return goose.DialectPostgres
	}
}

// Runner applies the SQL files in one directory. It does not own db.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(db *sql.DB, driver, dir string, logg *logger.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	provider, err := goose.NewProvider(Dialect(driver), db, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("goose provider for %s: %w", dir, err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Run executes up, down (one step) or status.
func (r *Runner) Run(ctx context.Context, command string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.report(ctx, results...)
		return wrapGoose("up", err)
	case "down":
		result, err := r.provider.Down(ctx)
		if result != nil {
			r.report(ctx, result)
		}
		return wrapGoose("down", err)
	case "status":
		return r.status(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

// To migrates up or down until the database sits at target, a
// YYYYMMDDHHMMSS version.
func (r *Runner) To(ctx context.Context, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil
	case current < version:
		results, err = r.provider.UpTo(ctx, version)
	default:
		results, err = r.provider.DownTo(ctx, version)
	}
	r.report(ctx, results...)
	return wrapGoose(fmt.Sprintf("migrate %d -> %d", current, version), err)
}

func (r *Runner) status(ctx context.Context) error {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return wrapGoose("status", err)
	}
	for _, st := range statuses {
		fields := map[string]any{
			"version": st.Source.Version,
			"file":    st.Source.Path,
			"state":   string(st.State),
		}
		if !st.AppliedAt.IsZero() {
			fields["applied_at"] = st.AppliedAt
		}
		r.info(ctx, fields, "migration.status")
	}
	return nil
}

func (r *Runner) report(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		fields := map[string]any{
			"version":     res.Source.Version,
			"file":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
			"empty":       res.Empty,
		}
		if res.Error != nil {
			fields["error"] = res.Error.Error()
		}
		r.info(ctx, fields, "migration.applied")
	}
}

func (r *Runner) info(ctx context.Context, fields map[string]any, msg string) {
	if r.logg == nil {
		return
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), msg)
}

func wrapGoose(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
