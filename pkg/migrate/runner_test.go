package migrate_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pactsign-backend/pkg/migrate"
)

func sqliteDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func writeMigration(t *testing.T, dir, file, up, down string) {
	t.Helper()
	body := "-- +goose Up\n" + up + "\n\n-- +goose Down\n" + down + "\n"
	if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", file, err)
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestRunnerUpDownAndTo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeMigration(t, dir, "20260101000000_first.sql", "CREATE TABLE first (id INTEGER PRIMARY KEY);", "DROP TABLE first;")
	writeMigration(t, dir, "20260102000000_second.sql", "CREATE TABLE second (id INTEGER PRIMARY KEY);", "DROP TABLE second;")

	db := sqliteDB(t)
	runner, err := migrate.NewRunner(db, "sqlite", dir, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	if err := runner.Run(ctx, "up"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("expected both tables after up")
	}
	if err := runner.Run(ctx, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}

	if err := runner.Run(ctx, "down"); err != nil {
		t.Fatalf("down: %v", err)
	}
	if tableExists(t, db, "second") || !tableExists(t, db, "first") {
		t.Fatal("expected down to revert only the newest migration")
	}

	if err := runner.To(ctx, "20260102000000"); err != nil {
		t.Fatalf("to latest: %v", err)
	}
	if !tableExists(t, db, "second") {
		t.Fatal("expected To to migrate up to the target")
	}
	if err := runner.To(ctx, "20260102000000"); err != nil {
		t.Fatalf("to current version should be a no-op: %v", err)
	}
	if err := runner.To(ctx, "not-a-version"); err == nil {
		t.Fatal("expected invalid version error")
	}
	if err := runner.Run(ctx, "sideways"); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestNewRunnerRequiresInputs(t *testing.T) {
	if _, err := migrate.NewRunner(nil, "sqlite", t.TempDir(), nil); err == nil {
		t.Fatal("expected missing db error")
	}
	if _, err := migrate.NewRunner(sqliteDB(t), "sqlite", "", nil); err == nil {
		t.Fatal("expected missing dir error")
	}
}
