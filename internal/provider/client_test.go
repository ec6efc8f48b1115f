package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flightops/weathermine/internal/models"
)

var testLocation = models.Location{Name: "JFK", Lat: 40.6413, Lon: -73.7781}

func testWindow() models.TimeWindow {
	return models.TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
	}
}

// newTestClient builds a client against the test server with sleeping
// replaced by a counter, so retries take no real time.
func newTestClient(t *testing.T, serverURL string, sleeps *int) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL: serverURL,
		APIKeys: []string{"key1", "key2"},
		Backoff: BackoffPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		Sleep: func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps++
			}
			return ctx.Err()
		},
		Rand: rand.New(rand.NewSource(42)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func drain(t *testing.T, it Iterator) ([]RawReading, error) {
	t.Helper()
	var out []RawReading
	for it.Next() {
		out = append(out, it.Reading())
	}
	return out, it.Err()
}

func readingsBody(n int) string {
	body := `{"data":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"datetime":"2024-01-01:%02d","timestamp_utc":"2024-01-01T%02d:00:00","temp":3.5,"wind_spd":4.1}`, i, i)
	}
	return body + `]}`
}

func TestFetchRetriesTransientThenExhausts(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var sleeps int
	client := newTestClient(t, server.URL, &sleeps)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	_, err = drain(t, it)

	var srcErr *models.SourceError
	if !errors.As(err, &srcErr) || srcErr.Kind != models.SourceExhausted {
		t.Fatalf("expected exhausted source error, got %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", got)
	}
	if sleeps != 4 {
		t.Fatalf("expected 4 backoff sleeps, got %d", sleeps)
	}
}

func TestFetchSucceedsOnThirdAttempt(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, readingsBody(3))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	readings, err := drain(t, it)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", got)
	}
}

func TestFetchAuthFailureIsNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	_, err = drain(t, it)

	var srcErr *models.SourceError
	if !errors.As(err, &srcErr) || srcErr.Kind != models.SourceAuth {
		t.Fatalf("expected auth source error, got %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("auth failure should not be retried, got %d requests", got)
	}
}

func TestFetchBadRequestIsNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	_, err = drain(t, it)

	var srcErr *models.SourceError
	if !errors.As(err, &srcErr) || srcErr.Kind != models.SourceInvalidRequest {
		t.Fatalf("expected invalid request source error, got %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Fatalf("bad request should not be retried, got %d requests", got)
	}
}

func TestFetchRotatesKeyOnRateLimit(t *testing.T) {
	var keys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		keys = append(keys, key)
		if key == "key1" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, readingsBody(1))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	readings, err := drain(t, it)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if len(keys) != 2 || keys[0] != "key1" || keys[1] != "key2" {
		t.Fatalf("expected key rotation key1->key2, saw %v", keys)
	}
}

func TestFetchPagesThroughWindowChunks(t *testing.T) {
	var starts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		starts = append(starts, r.URL.Query().Get("start_date"))
		fmt.Fprint(w, readingsBody(2))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:   server.URL,
		APIKeys:   []string{"key1"},
		ChunkSize: 28 * 24 * time.Hour,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	window := models.TimeWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), // 60 days -> 3 chunks
	}
	it, err := client.Fetch(context.Background(), testLocation, window)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(starts) != 0 {
		t.Fatalf("fetch should be lazy, saw %d requests before iteration", len(starts))
	}

	readings, err := drain(t, it)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(readings) != 6 {
		t.Fatalf("expected 6 readings over 3 chunks, got %d", len(readings))
	}
	want := []string{"2024-01-01", "2024-01-29", "2024-02-26"}
	if len(starts) != len(want) {
		t.Fatalf("expected %d requests, got %d (%v)", len(want), len(starts), starts)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("chunk %d: expected start_date %s, got %s", i, want[i], starts[i])
		}
	}
}

func TestFetchRejectsInvalidInput(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:0", nil)

	_, err := client.Fetch(context.Background(), models.Location{}, testWindow())
	var srcErr *models.SourceError
	if !errors.As(err, &srcErr) || srcErr.Kind != models.SourceInvalidRequest {
		t.Fatalf("expected invalid request for empty location, got %v", err)
	}

	_, err = client.Fetch(context.Background(), testLocation, models.TimeWindow{})
	if !errors.As(err, &srcErr) || srcErr.Kind != models.SourceInvalidRequest {
		t.Fatalf("expected invalid request for empty window, got %v", err)
	}
}

func TestDecodeReadingsFlagsUnknownFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"datetime":"2024-01-01:00","timestamp_utc":"2024-01-01T00:00:00","temp":1.0,"slp":1013.2}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	it, err := client.Fetch(context.Background(), testLocation, testWindow())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	readings, err := drain(t, it)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected the record to survive, got %d readings", len(readings))
	}
	warnings := it.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected 1 unknown-field warning, got %v", warnings)
	}
}

func TestFetchModeSelectsEndpoint(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, readingsBody(1))
	}))
	defer server.Close()

	for mode, want := range map[string]string{
		"":                   "/history/hourly",
		models.ModeHourly:    "/history/hourly",
		models.ModeSubHourly: "/history/subhourly",
	} {
		paths = nil
		client, err := NewClient(ClientConfig{
			BaseURL: server.URL,
			APIKeys: []string{"key1"},
			Mode:    mode,
		})
		if err != nil {
			t.Fatalf("NewClient(mode=%q): %v", mode, err)
		}
		it, err := client.Fetch(context.Background(), testLocation, testWindow())
		if err != nil {
			t.Fatalf("Fetch(mode=%q): %v", mode, err)
		}
		if _, err := drain(t, it); err != nil {
			t.Fatalf("stream error (mode=%q): %v", mode, err)
		}
		if len(paths) == 0 || paths[0] != want {
			t.Fatalf("mode %q requested %v, want %s", mode, paths, want)
		}
	}
}

func TestNewClientRejectsUnknownMode(t *testing.T) {
	_, err := NewClient(ClientConfig{
		BaseURL: "http://example.test",
		APIKeys: []string{"key1"},
		Mode:    "forecast",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported mode")
	}
}
