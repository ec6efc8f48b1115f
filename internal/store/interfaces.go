package store

import (
	"context"

	"github.com/flightops/weathermine/internal/models"
)

// ObservationStore is the storage sink contract of the collection pipeline.
// Insert must be atomic with respect to the deduplication key: concurrent
// inserts of the same (location, observed_at, source_id) yield exactly one
// row and a DuplicateKey storage error for the losers.
type ObservationStore interface {
	Exists(ctx context.Context, key models.ObservationKey) (bool, error)
	Insert(ctx context.Context, obs *models.WeatherObservation) error
	Ping(ctx context.Context) error
	Close()
}
