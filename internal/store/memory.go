package store

import (
	"context"
	"sync"

	"github.com/flightops/weathermine/internal/models"
)

// MemoryStore keeps observations in a map. Used for dry runs and tests;
// same contract as the durable stores, including the duplicate-key error.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]models.WeatherObservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.WeatherObservation)}
}

func (s *MemoryStore) Exists(_ context.Context, key models.ObservationKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key.String()]
	return ok, nil
}

func (s *MemoryStore) Insert(_ context.Context, obs *models.WeatherObservation) error {
	if err := obs.Validate(); err != nil {
		return models.NewStorageError(models.StorageConstraintViolation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := obs.Key().String()
	if _, ok := s.rows[k]; ok {
		return models.NewStorageError(models.StorageDuplicateKey, nil)
	}
	s.rows[k] = *obs
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// Count returns the number of stored rows.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
