package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/agrimon/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSchemaIsRepeatable(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()

	exists, err := TableExists(db, "sensor_readings")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, InitSchema(db, logger.Nop()))
	require.NoError(t, InitSchema(db, logger.Nop()))

	exists, err = TableExists(db, "sensor_readings")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreatedAtMustBeInteger(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, InitSchema(db, logger.Nop()))

	_, err = db.Exec(`INSERT INTO sensor_readings (created_at) VALUES ('2024-01-01')`)
	assert.Error(t, err)
}
