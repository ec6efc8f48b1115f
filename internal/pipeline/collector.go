package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/flightops/weathermine/internal/export"
	"github.com/flightops/weathermine/internal/models"
	"github.com/flightops/weathermine/internal/provider"
	"github.com/flightops/weathermine/internal/store"
)

// Source is the weather source client contract the collector depends on.
type Source interface {
	Fetch(ctx context.Context, loc models.Location, window models.TimeWindow) (provider.Iterator, error)
}

// Collector turns one collection run into durably stored, deduplicated
// observations. It holds no state between runs; the caller decides cadence.
type Collector struct {
	source      Source
	store       store.ObservationStore
	sinks       []export.Sink
	concurrency int
	clock       func() time.Time
}

func NewCollector(source Source, st store.ObservationStore, concurrency int) *Collector {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Collector{
		source:      source,
		store:       st,
		concurrency: concurrency,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// AddSink registers an additional output for accepted records. Sinks are
// best effort; their failures become report warnings.
func (c *Collector) AddSink(s export.Sink) { c.sinks = append(c.sinks, s) }

type locationResult struct {
	name     string
	srcErr   *models.SourceError
	written  int
	skipped  int
	warnings []string
	fatal    error // storage unreachable; aborts the whole run
}

// Run executes one collection pass over the locations with a bounded worker
// pool. Locations are independent: one failing does not abort the others.
// The report is assembled only after every worker has finished. A storage
// sink outage is the one fatal case; the run then returns the partial
// report together with a PipelineError so collected counts are not lost
// silently.
func (c *Collector) Run(ctx context.Context, locations []models.Location, window models.TimeWindow) (*models.CollectionReport, error) {
	if len(locations) == 0 {
		return nil, models.NewPipelineError(models.PipelineConfigInvalid,
			fmt.Errorf("no locations to collect"))
	}
	if err := window.Validate(); err != nil {
		return nil, models.NewPipelineError(models.PipelineConfigInvalid, err)
	}
	// Reachability preflight: no point fetching what cannot be persisted.
	if err := c.store.Ping(ctx); err != nil {
		return nil, models.NewPipelineError(models.PipelineStorageDown, err)
	}

	startedAt := c.clock()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan models.Location)
	results := make(chan locationResult, len(locations))

	workers := c.concurrency
	if workers > len(locations) {
		workers = len(locations)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for loc := range jobs {
				res := c.collectLocation(runCtx, loc, window, startedAt)
				if res.fatal != nil {
					// Stop the other workers; nothing more can be persisted.
					cancel()
				}
				results <- res
			}
		}()
	}

	for _, loc := range locations {
		jobs <- loc
	}
	close(jobs)
	wg.Wait()
	close(results)

	report := &models.CollectionReport{
		RunID:           cuid.New(),
		Window:          window,
		StartedAt:       startedAt,
		LocationsFailed: make(map[string]*models.SourceError),
	}
	var fatal error
	for res := range results {
		report.RecordsWritten += res.written
		report.RecordsSkippedAsDuplicate += res.skipped
		report.Warnings = append(report.Warnings, res.warnings...)
		if res.fatal != nil {
			fatal = res.fatal
			continue
		}
		if res.srcErr != nil {
			report.LocationsFailed[res.name] = res.srcErr
		} else {
			report.LocationsSucceeded = append(report.LocationsSucceeded, res.name)
		}
	}
	sort.Strings(report.LocationsSucceeded)
	report.FinishedAt = c.clock()

	if fatal != nil {
		return report, models.NewPipelineError(models.PipelineStorageDown, fatal)
	}
	return report, nil
}

// collectLocation fetches, normalizes, deduplicates and persists readings
// for a single location.
func (c *Collector) collectLocation(ctx context.Context, loc models.Location, window models.TimeWindow, startedAt time.Time) locationResult {
	res := locationResult{name: loc.Name}

	it, err := c.source.Fetch(ctx, loc, window)
	if err != nil {
		res.srcErr = asSourceError(err, loc.Name)
		return res
	}

	var accepted []models.WeatherObservation
	for it.Next() {
		obs, warnings := Normalize(loc, it.Reading(), startedAt)
		res.warnings = append(res.warnings, warnings...)
		if obs == nil {
			continue
		}

		exists, err := c.store.Exists(ctx, obs.Key())
		if err != nil {
			if stop := c.recordStorageFailure(ctx, loc.Name, err, &res); stop {
				return res
			}
			continue
		}
		if exists {
			res.skipped++
			continue
		}

		switch err := c.store.Insert(ctx, obs); {
		case err == nil:
			res.written++
			accepted = append(accepted, *obs)
		case isStorageKind(err, models.StorageDuplicateKey):
			// Lost the check-then-write race to another worker; the row is
			// there, which is all idempotence asks for.
			res.skipped++
		default:
			if stop := c.recordStorageFailure(ctx, loc.Name, err, &res); stop {
				return res
			}
		}
	}
	res.warnings = append(res.warnings, it.Warnings()...)

	if err := it.Err(); err != nil {
		res.srcErr = asSourceError(err, loc.Name)
	}

	if len(accepted) > 0 {
		for _, sink := range c.sinks {
			if err := sink.Write(ctx, accepted); err != nil {
				res.warnings = append(res.warnings,
					fmt.Sprintf("%s: export sink failed: %v", loc.Name, err))
			}
		}
	}
	return res
}

// recordStorageFailure decides what a storage error means for the worker:
// aborted run context makes it a transient location failure, an unreachable
// store is fatal for the run, anything else is a per-record warning. The
// returned bool tells the caller to stop processing this location.
func (c *Collector) recordStorageFailure(ctx context.Context, name string, err error, res *locationResult) bool {
	if ctx.Err() != nil {
		res.srcErr = models.NewSourceError(models.SourceTransient, name, ctx.Err())
		return true
	}
	if isStorageKind(err, models.StorageUnreachable) {
		log.Printf("storage sink unreachable while collecting %s: %v", name, err)
		res.fatal = err
		return true
	}
	res.warnings = append(res.warnings, fmt.Sprintf("%s: record not written: %v", name, err))
	return false
}

func isStorageKind(err error, kind models.StorageErrorKind) bool {
	var stErr *models.StorageError
	return errors.As(err, &stErr) && stErr.Kind == kind
}

func asSourceError(err error, location string) *models.SourceError {
	var srcErr *models.SourceError
	if errors.As(err, &srcErr) {
		return srcErr
	}
	// Deadline expiry and anything else unclassified count as transient.
	return models.NewSourceError(models.SourceTransient, location, err)
}
