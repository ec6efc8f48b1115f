package models

import (
	"math"
	"testing"
	"time"
)

func TestObservationValidateRejectsNonFinite(t *testing.T) {
	nan := math.NaN()
	obs := WeatherObservation{
		Location:    "JFK",
		ObservedAt:  time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
		Temperature: &nan,
		SourceID:    "2024-01-01:06",
	}
	if err := obs.Validate(); err == nil {
		t.Fatal("NaN measurement must not validate")
	}

	inf := math.Inf(1)
	obs.Temperature = &inf
	if err := obs.Validate(); err == nil {
		t.Fatal("Inf measurement must not validate")
	}

	obs.Temperature = nil
	if err := obs.Validate(); err != nil {
		t.Fatalf("absent measurement is valid: %v", err)
	}
}

func TestObservationKeyNormalizesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	a := WeatherObservation{
		Location:   "JFK",
		ObservedAt: time.Date(2024, 1, 1, 1, 0, 0, 0, est),
		SourceID:   "x",
	}
	b := WeatherObservation{
		Location:   "JFK",
		ObservedAt: time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
		SourceID:   "x",
	}
	if a.Key().String() != b.Key().String() {
		t.Fatalf("same instant must produce the same key: %s vs %s", a.Key(), b.Key())
	}
}

func TestTimeWindowChunks(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	chunks := w.Chunks(28 * 24 * time.Hour)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !chunks[0].Start.Equal(w.Start) {
		t.Fatalf("first chunk starts at %s", chunks[0].Start)
	}
	if !chunks[len(chunks)-1].End.Equal(w.End) {
		t.Fatalf("last chunk ends at %s", chunks[len(chunks)-1].End)
	}
	for i := 1; i < len(chunks); i++ {
		if !chunks[i].Start.Equal(chunks[i-1].End) {
			t.Fatalf("chunks %d and %d are not contiguous", i-1, i)
		}
	}
}

func TestTimeWindowChunksSmallWindow(t *testing.T) {
	w := TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
	}
	chunks := w.Chunks(28 * 24 * time.Hour)
	if len(chunks) != 1 || chunks[0] != w {
		t.Fatalf("small window must stay one chunk: %v", chunks)
	}
}

func TestReportHardFailed(t *testing.T) {
	r := &CollectionReport{LocationsFailed: map[string]*SourceError{
		"JFK": NewSourceError(SourceTransient, "JFK", nil),
	}}
	if r.HardFailed() {
		t.Fatal("transient failure alone must not hard-fail")
	}
	r.LocationsFailed["LHR"] = NewSourceError(SourceAuth, "LHR", nil)
	if !r.HardFailed() {
		t.Fatal("auth failure must hard-fail")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{
		Provider: ProviderConfig{
			BaseURL:     "https://api.weatherbit.io/v2.0",
			APIKeys:     []string{"k"},
			MaxAttempts: 5,
		},
		Locations:        []Location{{Name: "JFK", Lat: 40.6, Lon: -73.8}},
		ConcurrencyLimit: 4,
		Storage:          StorageConfig{Driver: "memory"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Locations = nil
	err := cfg.Validate()
	if err == nil {
		t.Fatal("config without locations must not validate")
	}
	pipeErr, ok := err.(*PipelineError)
	if !ok || pipeErr.Kind != PipelineConfigInvalid {
		t.Fatalf("expected config-invalid pipeline error, got %v", err)
	}
}

func TestConfigValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{
		Provider: ProviderConfig{
			BaseURL:     "https://api.weatherbit.io/v2.0",
			APIKeys:     []string{"k"},
			Mode:        "forecast",
			MaxAttempts: 5,
		},
		Locations:        []Location{{Name: "JFK", Lat: 40.6, Lon: -73.8}},
		ConcurrencyLimit: 4,
		Storage:          StorageConfig{Driver: "memory"},
	}
	err := cfg.Validate()
	pipeErr, ok := err.(*PipelineError)
	if !ok || pipeErr.Kind != PipelineConfigInvalid {
		t.Fatalf("expected config-invalid pipeline error, got %v", err)
	}

	cfg.Provider.Mode = ModeSubHourly
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sub_hourly mode rejected: %v", err)
	}
}
