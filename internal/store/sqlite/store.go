package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/flightops/weathermine/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS weather_observations (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    location      TEXT NOT NULL,
    observed_at   TEXT NOT NULL,
    source_id     TEXT NOT NULL,
    temperature   REAL,
    wind_speed    REAL,
    precipitation REAL,
    visibility    REAL,
    collected_at  TEXT NOT NULL,
    UNIQUE (location, observed_at, source_id)
)`

// Store persists observations in a local SQLite file, for single-machine
// runs that do not warrant a PostgreSQL instance. The UNIQUE index gives
// the same atomic check-and-insert dedup as the PostgreSQL store.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("failed to open database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("failed to create schema: %w", err))
	}
	return &Store{db: db}, nil
}

func (s *Store) Exists(ctx context.Context, key models.ObservationKey) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM weather_observations
            WHERE location = ? AND observed_at = ? AND source_id = ?
        )`
	var exists bool
	err := s.db.QueryRowContext(ctx, query,
		key.Location, key.ObservedAt.UTC().Format(time.RFC3339), key.SourceID).Scan(&exists)
	if err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (s *Store) Insert(ctx context.Context, obs *models.WeatherObservation) error {
	if err := obs.Validate(); err != nil {
		return models.NewStorageError(models.StorageConstraintViolation, err)
	}
	query := `
        INSERT OR IGNORE INTO weather_observations (
            location, observed_at, source_id,
            temperature, wind_speed, precipitation, visibility, collected_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		obs.Location,
		obs.ObservedAt.UTC().Format(time.RFC3339),
		obs.SourceID,
		obs.Temperature,
		obs.WindSpeed,
		obs.Precipitation,
		obs.Visibility,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewStorageError(models.StorageUnreachable, err)
	}
	if n == 0 {
		return models.NewStorageError(models.StorageDuplicateKey, nil)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return models.NewStorageError(models.StorageUnreachable, err)
	}
	return nil
}

func (s *Store) Close() { s.db.Close() }

func classify(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return models.NewStorageError(models.StorageConstraintViolation, err)
	}
	return models.NewStorageError(models.StorageUnreachable, err)
}
