package tracker

import (
	"path/filepath"
	"testing"
	"time"
)

func TestTrackerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker", "dates.json")
	oldest := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if got := tr.WindowStart("JFK", oldest); !got.Equal(oldest) {
		t.Fatalf("fresh tracker must return oldest, got %s", got)
	}

	tr.Advance("JFK", time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := tr.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := tr2.WindowStart("JFK", oldest); !got.Equal(want) {
		t.Fatalf("expected checkpoint %s, got %s", want, got)
	}
	if got := tr2.WindowStart("LHR", oldest); !got.Equal(oldest) {
		t.Fatalf("untracked location must return oldest, got %s", got)
	}
}

func TestTrackerNeverMovesBackwards(t *testing.T) {
	tr, err := Load(filepath.Join(t.TempDir(), "dates.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	oldest := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Advance("JFK", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	tr.Advance("JFK", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))

	want := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := tr.WindowStart("JFK", oldest); !got.Equal(want) {
		t.Fatalf("checkpoint regressed to %s", got)
	}
}
