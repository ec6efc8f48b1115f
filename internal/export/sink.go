package export

import (
	"context"

	"github.com/flightops/weathermine/internal/models"
)

// Sink is an additional output for accepted observations, written after the
// durable store. Sinks must tolerate concurrent Write calls from the
// pipeline's location workers.
type Sink interface {
	Write(ctx context.Context, batch []models.WeatherObservation) error
	Close() error
}
