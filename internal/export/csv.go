package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/flightops/weathermine/internal/models"
)

var csvHeader = []string{
	"location", "observed_at", "source_id",
	"temperature", "wind_speed", "precipitation", "visibility",
}

// CSVSink appends observations to one CSV file per location, writing the
// header only when the file is empty. This is the flat-file layout the
// prediction model's training jobs consume.
type CSVSink struct {
	folder string

	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

func NewCSVSink(folder string) (*CSVSink, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv folder %s: %w", folder, err)
	}
	return &CSVSink{
		folder:  folder,
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
	}, nil
}

func (s *CSVSink) Write(_ context.Context, batch []models.WeatherObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obs := range batch {
		w, err := s.writerFor(obs.Location)
		if err != nil {
			return err
		}
		if err := w.Write(toRow(obs)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", obs.Location, err)
		}
	}
	for loc, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("failed to flush csv for %s: %w", loc, err)
		}
	}
	return nil
}

func (s *CSVSink) writerFor(location string) (*csv.Writer, error) {
	if w, ok := s.writers[location]; ok {
		return w, nil
	}
	path := filepath.Join(s.folder, fmt.Sprintf("%s_weather_data.csv", location))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file for %s: %w", location, err)
	}
	w := csv.NewWriter(file)

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			file.Close()
			return nil, err
		}
	}
	s.files[location] = file
	s.writers[location] = w
	return w, nil
}

func toRow(obs models.WeatherObservation) []string {
	return []string{
		obs.Location,
		obs.ObservedAt.UTC().Format(time.RFC3339),
		obs.SourceID,
		formatOptional(obs.Temperature),
		formatOptional(obs.WindSpeed),
		formatOptional(obs.Precipitation),
		formatOptional(obs.Visibility),
	}
}

// formatOptional renders a missing measurement as an empty cell, never zero.
func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for loc, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush csv for %s: %w", loc, err)
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
