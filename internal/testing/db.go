// Package testing provides shared test helpers for the fulcrum project.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/fulcrumtrading/fulcrum/internal/database"
)

// NewTestDB creates an isolated temp-file SQLite database with the named
// schema applied and returns it with an idempotent cleanup function.
//
// Supported schema names:
//   - "tasks" - applies tasks_schema.sql
//   - "marketdata" - applies marketdata_schema.sql
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// A temp file per test keeps tests isolated from each other.
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}
