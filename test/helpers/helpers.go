// Package helpers provides shared setup for the database-backed test suites.
package helpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/database"
)

// Setup opens the test database named by config/config.yaml.test (or the
// LINE_DRIVE_TEST_CONFIG override) and applies pending migrations. Tests
// skip instead of failing when no database is reachable.
func Setup(t *testing.T) (*config.Config, *database.DB) {
	t.Helper()

	path := os.Getenv("LINE_DRIVE_TEST_CONFIG")
	if path == "" {
		path = "../../config/config.yaml.test"
	}

	cfg, err := config.LoadWithDefaults(path)
	if err != nil {
		t.Skipf("skipping: failed to load test config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		t.Skipf("skipping: test database unavailable: %v", err)
	}

	return cfg, db
}

// CleanupDatabase empties every table the suites write to. The seeded
// sportsbooks and their mappings survive; lazily-created review mappings do
// not, so reruns start from the migration seed.
func CleanupDatabase(t *testing.T, db *database.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tables := []string{
		"operational.alert_dead_letters",
		"operational.alerts",
		"operational.recovery_actions",
		"operational.quarantine",
		"operational.collection_attempts",
		"operational.pipeline_runs",
		"curated.moneyline_lines",
		"curated.spread_lines",
		"curated.total_lines",
		"staging.moneyline_lines",
		"staging.spread_lines",
		"staging.total_lines",
		"raw.records_oddsfeed",
		"raw.records_sharpsplits",
		"raw.records_wagerpct",
		"raw.records_mlbsched",
		"raw.records_oddsboard",
		"curated.games",
	}

	for _, table := range tables {
		if _, err := db.GetPool().Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Logf("warning: failed to clean %s: %v", table, err)
		}
	}

	if _, err := db.GetPool().Exec(ctx,
		"DELETE FROM operational.sportsbook_external_map WHERE needs_review"); err != nil {
		t.Logf("warning: failed to clean review mappings: %v", err)
	}
}

// Teardown cleans test data and closes the pool
func Teardown(t *testing.T, db *database.DB) {
	t.Helper()
	CleanupDatabase(t, db)
	db.Close()
}
