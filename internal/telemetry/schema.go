package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
)

const (
	readingsTable = "sensor_readings"

	// created_at holds unix nanoseconds (UTC) so range filters and ordering
	// are plain integer comparisons.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS sensor_readings (
	       id            INTEGER PRIMARY KEY AUTOINCREMENT,
	       created_at    INTEGER NOT NULL CHECK (typeof(created_at) = 'integer'),
	       temperature_c REAL,
	       humidity      REAL,
	       soil_moisture REAL
	   );
	   CREATE INDEX IF NOT EXISTS ix_sensor_readings_created_at
	       ON sensor_readings (created_at);`

	insertReadingSQL = `
    INSERT INTO sensor_readings (
        created_at, temperature_c, humidity, soil_moisture
    ) VALUES (?, ?, ?, ?)`

	recentReadingsSQL = `
    SELECT id, created_at, temperature_c, humidity, soil_moisture
    FROM sensor_readings
    ORDER BY created_at DESC, id DESC
    LIMIT ?`

	rangeReadingsSQL = `
    SELECT id, created_at, temperature_c, humidity, soil_moisture
    FROM sensor_readings
    WHERE created_at >= ? AND created_at <= ?
    ORDER BY created_at ASC, id ASC`

	// AVG skips NULLs and yields NULL for an all-NULL column
	aggregateReadingsSQL = `
    SELECT COUNT(id),
           AVG(temperature_c), AVG(humidity), AVG(soil_moisture),
           MIN(created_at), MAX(created_at)
    FROM sensor_readings
    WHERE created_at >= ?`
)

// InitSchema creates the readings table and its index if they do not exist
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	exists, err := TableExists(db, readingsTable)
	if err != nil {
		return err
	}
	if exists {
		log.Debug().Msg("Schema present, ensuring index")
	} else {
		log.Info().Str("table", readingsTable).Msg("Creating schema")
	}

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback schema transaction")
				}
			}
		}
	}()

	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Debug().Msg("Schema ready")

	return nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
