package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/flightops/weathermine/internal/export"
	"github.com/flightops/weathermine/internal/models"
	"github.com/flightops/weathermine/internal/pipeline"
	"github.com/flightops/weathermine/internal/provider"
	"github.com/flightops/weathermine/internal/store"
	"github.com/flightops/weathermine/internal/store/postgres"
	"github.com/flightops/weathermine/internal/store/sqlite"
)

// buildCollector wires the source client, storage sink and export sinks
// into a ready collector. The returned cleanup closes everything opened.
func buildCollector(ctx context.Context, cfg *models.Config) (*pipeline.Collector, func(), error) {
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	client, err := provider.NewClient(provider.ClientConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKeys: cfg.Provider.APIKeys,
		Mode:    cfg.Provider.Mode,
		Units:   cfg.Provider.Units,
		HTTPClient: &http.Client{
			Timeout: cfg.Provider.RequestTimeout,
		},
		Backoff: provider.BackoffPolicy{
			MaxAttempts: cfg.Provider.MaxAttempts,
			BaseDelay:   cfg.Provider.BaseDelay,
			MaxDelay:    cfg.Provider.MaxDelay,
		},
		ChunkSize: cfg.ChunkSize(),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	collector := pipeline.NewCollector(client, st, cfg.ConcurrencyLimit)

	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	for _, s := range sinks {
		collector.AddSink(s)
	}

	cleanup := func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				log.Printf("error closing export sink: %v", err)
			}
		}
		st.Close()
	}
	return collector, cleanup, nil
}

func openStore(ctx context.Context, cfg models.StorageConfig) (store.ObservationStore, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.New(ctx, cfg.DSN)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, models.NewPipelineError(models.PipelineConfigInvalid,
			fmt.Errorf("unknown storage driver %q", cfg.Driver))
	}
}

func buildSinks(ctx context.Context, cfg *models.Config) ([]export.Sink, error) {
	var sinks []export.Sink

	if cfg.CSVFolder != "" {
		csvSink, err := export.NewCSVSink(cfg.CSVFolder)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}

	if cfg.Kafka.Enabled {
		kafkaSink, err := export.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafkaSink)
	}

	if cfg.Archive.Enabled {
		var uploader export.CloudUploader
		if cfg.Archive.CloudStorage {
			u, err := export.NewS3Uploader(ctx, cfg.Archive.Region)
			if err != nil {
				return nil, err
			}
			uploader = u
		}
		parquetSink, err := export.NewParquetSink(cfg.Archive, uploader)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, parquetSink)
	}

	return sinks, nil
}
