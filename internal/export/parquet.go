package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/flightops/weathermine/internal/models"
)

// parquetObservation is the columnar layout of the archive files. Optional
// measurements stay optional so "not reported" survives into the archive.
type parquetObservation struct {
	Location      string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt    int64    `parquet:"name=observed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	SourceID      string   `parquet:"name=source_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Temperature   *float64 `parquet:"name=temperature, type=DOUBLE, repetitiontype=OPTIONAL"`
	WindSpeed     *float64 `parquet:"name=wind_speed, type=DOUBLE, repetitiontype=OPTIONAL"`
	Precipitation *float64 `parquet:"name=precipitation, type=DOUBLE, repetitiontype=OPTIONAL"`
	Visibility    *float64 `parquet:"name=visibility, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// ParquetSink archives accepted observations into one parquet file per run,
// written locally on Close and optionally mirrored to S3.
type ParquetSink struct {
	folder   string
	uploader CloudUploader
	bucket   string

	mu   sync.Mutex
	rows []parquetObservation
}

func NewParquetSink(cfg models.ArchiveConfig, uploader CloudUploader) (*ParquetSink, error) {
	folder := cfg.Folder
	if folder == "" {
		folder = "archive"
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive folder %s: %w", folder, err)
	}
	s := &ParquetSink{folder: folder}
	if cfg.CloudStorage {
		if uploader == nil {
			return nil, fmt.Errorf("cloud storage enabled but no uploader supplied")
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("cloud storage enabled but no bucket configured")
		}
		s.uploader = uploader
		s.bucket = cfg.Bucket
	}
	return s, nil
}

func (s *ParquetSink) Write(_ context.Context, batch []models.WeatherObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obs := range batch {
		s.rows = append(s.rows, parquetObservation{
			Location:      obs.Location,
			ObservedAt:    obs.ObservedAt.UTC().UnixMilli(),
			SourceID:      obs.SourceID,
			Temperature:   obs.Temperature,
			WindSpeed:     obs.WindSpeed,
			Precipitation: obs.Precipitation,
			Visibility:    obs.Visibility,
		})
	}
	return nil
}

// Close flushes the buffered rows into a timestamped parquet file and, when
// configured, uploads it to the archive bucket.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rows) == 0 {
		return nil
	}

	name := fmt.Sprintf("weather_observations_%s.parquet", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(s.folder, name)

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetObservation), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	for _, row := range s.rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return err
	}
	s.rows = nil

	if s.uploader == nil {
		return nil
	}
	return s.upload(context.Background(), path, name)
}

func (s *ParquetSink) upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s for upload: %w", path, err)
	}
	defer f.Close()
	return s.uploader.Upload(ctx, s.bucket, "weathermine/"+name, f)
}
