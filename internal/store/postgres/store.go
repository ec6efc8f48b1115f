package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flightops/weathermine/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS weather_observations (
    id            BIGSERIAL PRIMARY KEY,
    location      TEXT NOT NULL,
    observed_at   TIMESTAMPTZ NOT NULL,
    source_id     TEXT NOT NULL,
    temperature   DOUBLE PRECISION,
    wind_speed    DOUBLE PRECISION,
    precipitation DOUBLE PRECISION,
    visibility    DOUBLE PRECISION,
    collected_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT weather_observations_dedup UNIQUE (location, observed_at, source_id)
)`

// Store persists observations in PostgreSQL. The unique constraint on the
// dedup key makes Insert an atomic check-and-insert, so concurrent location
// workers cannot double-insert.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("error connecting to database: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("error pinging database: %w", err))
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, models.NewStorageError(models.StorageUnreachable,
			fmt.Errorf("error creating schema: %w", err))
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Exists(ctx context.Context, key models.ObservationKey) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM weather_observations
            WHERE location = $1 AND observed_at = $2 AND source_id = $3
        )`
	var exists bool
	err := s.pool.QueryRow(ctx, query, key.Location, key.ObservedAt, key.SourceID).Scan(&exists)
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
        INSERT INTO weather_observations (
            location, observed_at, source_id,
            temperature, wind_speed, precipitation, visibility
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT ON CONSTRAINT weather_observations_dedup DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		obs.Location,
		obs.ObservedAt.UTC(),
		obs.SourceID,
		obs.Temperature,
		obs.WindSpeed,
		obs.Precipitation,
		obs.Visibility,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewStorageError(models.StorageDuplicateKey, nil)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return models.NewStorageError(models.StorageUnreachable, err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }

// classify maps pgx errors onto the storage taxonomy: integrity errors
// (SQLSTATE class 23) are constraint violations, everything else means the
// store cannot be used for this run.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "23") {
			return models.NewStorageError(models.StorageConstraintViolation, err)
		}
	}
	return models.NewStorageError(models.StorageUnreachable, err)
}
