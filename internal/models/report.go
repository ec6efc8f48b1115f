package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CollectionReport aggregates the outcome of one collection run. It is
// assembled only after every per-location worker has finished.
type CollectionReport struct {
	RunID                     string                  `json:"run_id"`
	Window                    TimeWindow              `json:"window"`
	StartedAt                 time.Time               `json:"started_at"`
	FinishedAt                time.Time               `json:"finished_at"`
	LocationsSucceeded        []string                `json:"locations_succeeded"`
	LocationsFailed           map[string]*SourceError `json:"locations_failed"`
	RecordsWritten            int                     `json:"records_written"`
	RecordsSkippedAsDuplicate int                     `json:"records_skipped_as_duplicate"`
	Warnings                  []string                `json:"warnings,omitempty"`
}

// HardFailed reports whether the run should exit non-zero: any location
// failure that is not a plain transient one counts.
func (r *CollectionReport) HardFailed() bool {
	for _, err := range r.LocationsFailed {
		if err.Hard() {
			return true
		}
	}
	return false
}

// Summary renders the human-readable one-run summary printed by the CLI.
func (r *CollectionReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d location(s) succeeded, %d failed, %d record(s) written, %d skipped as duplicate",
		r.RunID, len(r.LocationsSucceeded), len(r.LocationsFailed),
		r.RecordsWritten, r.RecordsSkippedAsDuplicate)
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, ", %d warning(s)", len(r.Warnings))
	}
	if len(r.LocationsFailed) > 0 {
		names := make([]string, 0, len(r.LocationsFailed))
		for name := range r.LocationsFailed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n  %s: %v", name, r.LocationsFailed[name])
		}
	}
	return b.String()
}
