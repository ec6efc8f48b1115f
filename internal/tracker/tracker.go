// Package tracker checkpoints backfill progress so repeated runs resume
// where the previous one stopped instead of refetching from the oldest
// configured date.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// DateTracker maps location name to the day up to which data has been
// fully collected and persisted.
type DateTracker struct {
	path string

	mu    sync.Mutex
	dates map[string]string
}

// Load reads the checkpoint file; a missing file means a fresh tracker.
func Load(path string) (*DateTracker, error) {
	t := &DateTracker{path: path, dates: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read date tracker %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &t.dates); err != nil {
		return nil, fmt.Errorf("corrupt date tracker %s: %w", path, err)
	}
	return t, nil
}

// WindowStart returns where collection for the location should resume:
// the checkpointed date if one exists, otherwise oldest.
func (t *DateTracker) WindowStart(location string, oldest time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.dates[location]
	if !ok {
		return oldest
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return oldest
	}
	return d.UTC()
}

// Advance records that the location is collected up to the given time.
// Checkpoints never move backwards.
func (t *DateTracker) Advance(location string, upTo time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := upTo.UTC().Format(dateLayout)
	if prev, ok := t.dates[location]; ok && prev >= next {
		return
	}
	t.dates[location] = next
}

// Save writes the checkpoint file, creating its directory if needed.
func (t *DateTracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create tracker folder: %w", err)
		}
	}
	data, err := json.Marshal(t.dates)
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save date tracker %s: %w", t.path, err)
	}
	return nil
}
