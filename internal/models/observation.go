package models

import (
	"fmt"
	"math"
	"time"
)

// WeatherObservation is the canonical record persisted by a collection run.
// Measurement pointers are nil when the provider did not report the field;
// absence is never encoded as zero.
type WeatherObservation struct {
	Location      string    `json:"location"`
	ObservedAt    time.Time `json:"observed_at"`
	Temperature   *float64  `json:"temperature,omitempty"`   // degrees Celsius
	WindSpeed     *float64  `json:"wind_speed,omitempty"`    // metres per second
	Precipitation *float64  `json:"precipitation,omitempty"` // millimetres
	Visibility    *float64  `json:"visibility,omitempty"`    // kilometres
	SourceID      string    `json:"source_id"`
}

// ObservationKey is the deduplication key: a provider record is stored at
// most once per (location, observed_at, source_id).
type ObservationKey struct {
	Location   string
	ObservedAt time.Time
	SourceID   string
}

func (k ObservationKey) String() string {
	return k.Location + "|" + k.ObservedAt.UTC().Format(time.RFC3339) + "|" + k.SourceID
}

// Key returns the observation's deduplication key with the timestamp
// normalized to UTC.
func (o *WeatherObservation) Key() ObservationKey {
	return ObservationKey{
		Location:   o.Location,
		ObservedAt: o.ObservedAt.UTC(),
		SourceID:   o.SourceID,
	}
}

// Validate checks the persistence invariants: required identifiers present
// and all reported measurements finite.
func (o *WeatherObservation) Validate() error {
	if o.Location == "" {
		return fmt.Errorf("observation has empty location")
	}
	if o.SourceID == "" {
		return fmt.Errorf("observation has empty source id")
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("observation has zero timestamp")
	}
	for name, v := range map[string]*float64{
		"temperature":   o.Temperature,
		"wind_speed":    o.WindSpeed,
		"precipitation": o.Precipitation,
		"visibility":    o.Visibility,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("observation field %s is not finite", name)
		}
	}
	return nil
}

// Location is a named coordinate the miner collects data for.
type Location struct {
	Name string  `json:"name" mapstructure:"name"`
	Lat  float64 `json:"lat" mapstructure:"lat"`
	Lon  float64 `json:"lon" mapstructure:"lon"`
}

func (l Location) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("location has empty name")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("location %s: latitude %f out of range", l.Name, l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("location %s: longitude %f out of range", l.Name, l.Lon)
	}
	return nil
}

// TimeWindow is a half-open UTC interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("time window requires both start and end")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("time window start %s is after end %s", w.Start, w.End)
	}
	return nil
}

// Chunks splits the window into consecutive sub-windows of at most d each,
// so long backfills can be fetched one provider request at a time.
func (w TimeWindow) Chunks(d time.Duration) []TimeWindow {
	if d <= 0 || !w.Start.Add(d).Before(w.End) {
		return []TimeWindow{w}
	}
	var out []TimeWindow
	start := w.Start
	for start.Before(w.End) {
		end := start.Add(d)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, TimeWindow{Start: start, End: end})
		start = end
	}
	return out
}
