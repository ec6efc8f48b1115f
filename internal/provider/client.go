package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flightops/weathermine/internal/models"
)

// Provider endpoints per collection mode.
const (
	hourlyPath    = "/history/hourly"
	subHourlyPath = "/history/subhourly"
)

// ClientConfig carries everything the client needs; there is no package
// level state, a credential lives only in the client built from it.
type ClientConfig struct {
	BaseURL    string
	APIKeys    []string
	Mode       string // models.ModeHourly (default) or models.ModeSubHourly
	Units      string // "M" metric (default) or "I" imperial
	HTTPClient *http.Client
	Backoff    BackoffPolicy
	Sleep      SleepFunc // nil means real context-aware sleep
	ChunkSize  time.Duration
	Rand       *rand.Rand // nil means time-seeded
}

// Client retrieves readings from the weather provider with bounded retry,
// API key rotation on rate limits and a circuit breaker around the HTTP
// call. Safe for concurrent use by pipeline workers.
type Client struct {
	baseURL    string
	path       string
	apiKeys    []string
	units      string
	httpClient *http.Client
	backoff    BackoffPolicy
	sleep      SleepFunc
	chunkSize  time.Duration
	breaker    *gobreaker.CircuitBreaker

	mu     sync.Mutex
	keyIdx int
	rng    *rand.Rand
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one provider api key is required")
	}
	var path string
	switch cfg.Mode {
	case "", models.ModeHourly:
		path = hourlyPath
	case models.ModeSubHourly:
		path = subHourlyPath
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backoff := cfg.Backoff
	if backoff.MaxAttempts < 1 {
		backoff = DefaultBackoff()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 28 * 24 * time.Hour
	}
	units := cfg.Units
	if units == "" {
		units = "M"
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	// The breaker trips only on sustained failure well beyond one fetch's
	// retry budget, so a single bad window cannot open it.
	threshold := uint32(backoff.MaxAttempts * 3)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "weather-provider",
		Interval: time.Minute,
		Timeout:  2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > threshold
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		path:       path,
		apiKeys:    cfg.APIKeys,
		units:      units,
		httpClient: httpClient,
		backoff:    backoff,
		sleep:      sleep,
		chunkSize:  chunkSize,
		breaker:    breaker,
		rng:        rng,
	}, nil
}

// Fetch returns a lazy stream of provider-native readings covering the
// window for one location. Requests are issued as the stream is consumed,
// one window chunk at a time; the stream is finite and cannot be restarted.
// Input validation failures are reported immediately as InvalidRequest.
func (c *Client) Fetch(ctx context.Context, loc models.Location, window models.TimeWindow) (Iterator, error) {
	if err := loc.Validate(); err != nil {
		return nil, models.NewSourceError(models.SourceInvalidRequest, loc.Name, err)
	}
	if err := window.Validate(); err != nil {
		return nil, models.NewSourceError(models.SourceInvalidRequest, loc.Name, err)
	}
	return &ReadingStream{
		client: c,
		ctx:    ctx,
		loc:    loc,
		chunks: window.Chunks(c.chunkSize),
	}, nil
}

// Iterator is the read side of a fetch: bufio.Scanner-style iteration over
// provider records, with warnings collected during decoding.
type Iterator interface {
	Next() bool
	Reading() RawReading
	Warnings() []string
	Err() error
}

// ReadingStream pages through the window chunks lazily. Not safe for
// concurrent use; each pipeline worker owns its own stream.
type ReadingStream struct {
	client *Client
	ctx    context.Context
	loc    models.Location
	chunks []models.TimeWindow

	buf      []RawReading
	idx      int
	warnings []string
	err      error
	done     bool
}

// Next advances to the following reading, fetching the next window chunk
// from the provider when the buffer is drained.
func (s *ReadingStream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for s.idx >= len(s.buf) {
		if len(s.chunks) == 0 {
			s.done = true
			return false
		}
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		readings, warnings, err := s.client.fetchChunk(s.ctx, s.loc, chunk)
		if err != nil {
			s.err = err
			return false
		}
		s.warnings = append(s.warnings, warnings...)
		s.buf = readings
		s.idx = 0
	}
	s.idx++
	return true
}

// Reading returns the record Next advanced to.
func (s *ReadingStream) Reading() RawReading { return s.buf[s.idx-1] }

// Warnings returns schema warnings accumulated so far.
func (s *ReadingStream) Warnings() []string { return s.warnings }

// Err returns the SourceError that terminated the stream, if any.
func (s *ReadingStream) Err() error { return s.err }

type apiResponse struct {
	Data []json.RawMessage `json:"data"`
}

// fetchChunk issues one provider request for a window chunk, retrying
// transient failures per the backoff policy.
func (c *Client) fetchChunk(ctx context.Context, loc models.Location, window models.TimeWindow) ([]RawReading, []string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name, err)
		}

		readings, warnings, err := c.doRequest(ctx, loc, window)
		if err == nil {
			return readings, warnings, nil
		}

		var srcErr *models.SourceError
		if errors.As(err, &srcErr) && srcErr.Kind != models.SourceTransient {
			// Auth and malformed-request failures do not resolve themselves.
			return nil, nil, err
		}
		lastErr = err

		if attempt == c.backoff.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.delay(attempt)); err != nil {
			return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name, err)
		}
	}

	return nil, nil, models.NewSourceError(models.SourceExhausted, loc.Name,
		fmt.Errorf("%d attempt(s) failed, last error: %w", c.backoff.MaxAttempts, lastErr))
}

func (c *Client) delay(attempt int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Delay(attempt, c.rng)
}

func (c *Client) currentKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKeys[c.keyIdx%len(c.apiKeys)]
}

// rotateKey moves to the next configured API key after a rate-limit signal,
// the way the miner always burned through its key list.
func (c *Client) rotateKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyIdx = (c.keyIdx + 1) % len(c.apiKeys)
}

// doRequest performs a single HTTP round trip and classifies the outcome.
func (c *Client) doRequest(ctx context.Context, loc models.Location, window models.TimeWindow) ([]RawReading, []string, error) {
	req, err := c.buildRequest(ctx, loc, window)
	if err != nil {
		return nil, nil, models.NewSourceError(models.SourceInvalidRequest, loc.Name, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name,
				fmt.Errorf("circuit breaker open: %w", err))
		}
		// Network-level failures (timeouts, resets) are transient.
		return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name, err)
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode below
	case resp.StatusCode == http.StatusTooManyRequests:
		c.rotateKey()
		return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name,
			fmt.Errorf("rate limited (HTTP 429), rotated api key"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, models.NewSourceError(models.SourceAuth, loc.Name,
			fmt.Errorf("provider rejected credentials (HTTP %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name,
			fmt.Errorf("provider server error (HTTP %d)", resp.StatusCode))
	default:
		return nil, nil, models.NewSourceError(models.SourceInvalidRequest, loc.Name,
			fmt.Errorf("provider refused request (HTTP %d)", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name, err)
	}
	var payload apiResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, models.NewSourceError(models.SourceTransient, loc.Name,
			fmt.Errorf("malformed provider response: %w", err))
	}

	readings, warnings := decodeReadings(payload.Data, c.units)
	return readings, warnings, nil
}

func (c *Client) buildRequest(ctx context.Context, loc models.Location, window models.TimeWindow) (*http.Request, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", loc.Lat))
	values.Set("lon", fmt.Sprintf("%f", loc.Lon))
	values.Set("start_date", window.Start.UTC().Format("2006-01-02"))
	values.Set("end_date", window.End.UTC().Format("2006-01-02"))
	values.Set("tz", "utc")
	values.Set("units", c.units)
	values.Set("key", c.currentKey())

	u := fmt.Sprintf("%s%s?%s", c.baseURL, c.path, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
