package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yourusername/line-drive/internal/config"
)

// SetupTestDB creates a test database connection, skipping the test when no
// database is reachable so the suite stays runnable on laptops without one.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	path := os.Getenv("LINE_DRIVE_TEST_CONFIG")
	if path == "" {
		path = "../../config/config.yaml.test"
	}

	cfg, err := config.LoadWithDefaults(path)
	if err != nil {
		t.Skipf("skipping: failed to load test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		t.Skipf("skipping: test database unavailable: %v", err)
	}

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer verifyCancel()

	if err := db.Ping(verifyCtx); err != nil {
		db.Close()
		t.Skipf("skipping: failed to ping test database: %v", err)
	}

	// A fresh test database has no schema yet; bring it current.
	if err := RunMigrations(cfg.GetDatabaseDSN()); err != nil {
		db.Close()
		t.Skipf("skipping: failed to apply migrations: %v", err)
	}

	return db
}

// TeardownTestDB closes the database connection cleanly
func TeardownTestDB(t *testing.T, db *DB) {
	t.Helper()
	db.Close()
}
