//go:build integration

package repository

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/totegamma/examwatch/internal/infra/database"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func minute(n int) time.Time {
	return base.Add(time.Duration(n) * time.Minute)
}

// openTestDB connects to EXAMWATCH_TEST_DSN and empties every table.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("EXAMWATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("EXAMWATCH_TEST_DSN not set")
	}

	db, err := database.NewPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, database.MigratePostgres(db))
	require.NoError(t, db.Exec(
		"TRUNCATE sightings, registrations, registrations_archive, users, submissions RESTART IDENTITY",
	).Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}
