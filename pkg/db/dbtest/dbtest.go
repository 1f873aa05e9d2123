// Package dbtest opens isolated in-memory sqlite databases carrying the
// application schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/angelmondragon/pactsign-backend/pkg/db"
	"github.com/angelmondragon/pactsign-backend/pkg/db/models"
)

// Open returns a migrated database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(&models.Contract{}, &models.ContractSignature{}, &models.EmailOutbox{}); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// OpenClient wraps Open in a db.Client so callers get WithTx.
func OpenClient(t testing.TB) *dbpkg.Client {
	t.Helper()
	return dbpkg.NewFromGorm(Open(t))
}
