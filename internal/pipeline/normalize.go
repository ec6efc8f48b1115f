package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/flightops/weathermine/internal/models"
	"github.com/flightops/weathermine/internal/provider"
)

// Canonical units are metric: Celsius, metres/second, millimetres,
// kilometres. Imperial payloads are converted with exact factors so a
// round trip loses nothing beyond float arithmetic.
const (
	mphToMS         = 0.44704
	inchToMM        = 25.4
	mileToKM        = 1.609344
	timestampLayout = "2006-01-02T15:04:05"
)

func fahrenheitToCelsius(f float64) float64 { return (f - 32) * 5 / 9 }

// Normalize maps one provider-native reading onto the canonical observation
// shape. A nil observation means the reading was dropped; the warnings say
// why. collectedAt is the run's wall-clock start, used to reject readings
// stamped in the future.
func Normalize(loc models.Location, r provider.RawReading, collectedAt time.Time) (*models.WeatherObservation, []string) {
	var warnings []string

	observedAt, err := readingTime(r)
	if err != nil {
		return nil, []string{fmt.Sprintf("%s: reading dropped: %v", loc.Name, err)}
	}
	if observedAt.After(collectedAt) {
		return nil, []string{fmt.Sprintf("%s: reading at %s is in the future, dropped",
			loc.Name, observedAt.Format(time.RFC3339))}
	}

	sourceID := r.Datetime
	if sourceID == "" {
		sourceID = r.TimestampUTC
	}
	if sourceID == "" {
		return nil, []string{fmt.Sprintf("%s: reading at %s has no provider record id, dropped",
			loc.Name, observedAt.Format(time.RFC3339))}
	}

	obs := &models.WeatherObservation{
		Location:   loc.Name,
		ObservedAt: observedAt,
		SourceID:   sourceID,
	}

	imperial := r.Units == "I"
	obs.Temperature, warnings = normalizeField(loc.Name, "temperature", r.Temp, imperial, fahrenheitToCelsius, warnings)
	obs.WindSpeed, warnings = normalizeField(loc.Name, "wind_speed", r.WindSpd, imperial, scale(mphToMS), warnings)
	obs.Precipitation, warnings = normalizeField(loc.Name, "precipitation", r.Precip, imperial, scale(inchToMM), warnings)
	obs.Visibility, warnings = normalizeField(loc.Name, "visibility", r.Vis, imperial, scale(mileToKM), warnings)

	return obs, warnings
}

func scale(factor float64) func(float64) float64 {
	return func(v float64) float64 { return v * factor }
}

// normalizeField converts one optional measurement, dropping non-finite
// values with a warning instead of failing the reading.
func normalizeField(loc, name string, v *float64, imperial bool, convert func(float64) float64, warnings []string) (*float64, []string) {
	if v == nil {
		return nil, warnings
	}
	val := *v
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return nil, append(warnings, fmt.Sprintf("%s: field %s is not finite, dropped", loc, name))
	}
	if imperial {
		val = convert(val)
	}
	return &val, warnings
}

func readingTime(r provider.RawReading) (time.Time, error) {
	if r.TimestampUTC != "" {
		t, err := time.Parse(timestampLayout, r.TimestampUTC)
		if err == nil {
			return t.UTC(), nil
		}
	}
	if r.TS > 0 {
		return time.Unix(r.TS, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no usable timestamp (timestamp_utc=%q ts=%d)", r.TimestampUTC, r.TS)
}
