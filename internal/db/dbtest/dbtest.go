// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"testing"

	"github.com/ecotionbuddy/binhub/internal/config"
	"github.com/ecotionbuddy/binhub/internal/db"
	"gorm.io/gorm"
)

// Open creates a fresh in-memory SQLite database with all tables migrated,
// opened the same way the server opens its store. The database is closed
// when the test finishes.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		db.Close(gdb)
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() { db.Close(gdb) })
	return gdb
}
