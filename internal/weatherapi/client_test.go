package weatherapi

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-etl/internal/models"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

const parisBody = `{"dt":1690000000,"name":"Paris","sys":{"country":"FR"},"main":{"temp":22,"humidity":60},"weather":[{"description":"clear sky"}],"wind":{"speed":3.5},"clouds":{"all":0}}`

// sleepRecorder replaces the backoff sleep with a mocked clock
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum time.Duration
	for _, d := range s.delays {
		sum += d
	}
	return sum
}

// scriptedTransport answers each request with the next scripted step
type scriptedTransport struct {
	mu    sync.Mutex
	steps []func(*http.Request) (*http.Response, error)
	calls int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i](req)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func timeoutStep(*http.Request) (*http.Response, error) {
	return nil, timeoutError{}
}

func refusedStep(*http.Request) (*http.Response, error) {
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func okStep(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(parisBody)),
		Request:    req,
	}, nil
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *metrics.Collector) {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	m := metrics.NewCollector("test")
	c, err := NewClient(cfg, logging.NewNopLogger(), m, opts...)
	require.NoError(t, err)
	return c, m
}

func requireAPIError(t *testing.T, err error) *models.WeatherAPIError {
	t.Helper()
	require.Error(t, err)
	var apiErr *models.WeatherAPIError
	require.True(t, errors.As(err, &apiErr), "expected WeatherAPIError, got %T: %v", err, err)
	return apiErr
}

func TestNewClient_Configuration(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantField string
	}{
		{"missing api key", Config{}, "api.key"},
		{"unknown units", Config{APIKey: "k", Units: "kelvin"}, "api.units"},
		{"bad base url", Config{APIKey: "k", BaseURL: "not a url"}, "api.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg, nil, nil)
			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestFetch_SuccessReturnsBodyUnmodified(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{"q": q.Get("q"), "appid": q.Get("appid"), "units": q.Get("units")}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(parisBody))
	}))
	defer srv.Close()

	c, m := newTestClient(t, Config{BaseURL: srv.URL, APIKey: "secret", Units: "imperial"})

	record, err := c.Fetch(context.Background(), "Paris")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"q": "Paris", "appid": "secret", "units": "imperial"}, gotQuery)
	assert.Equal(t, "Paris", record["name"])
	assert.Equal(t, 1690000000.0, record["dt"])
	main, ok := record["main"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 22.0, main["temp"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("success")))
}

func TestFetch_RetryBackoff(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantSleep time.Duration
	}{
		{"first attempt succeeds", 0, 0},
		{"one timeout", 1, 1 * time.Second},
		{"two timeouts", 2, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]func(*http.Request) (*http.Response, error), 0, tt.failures+1)
			for i := 0; i < tt.failures; i++ {
				steps = append(steps, timeoutStep)
			}
			steps = append(steps, okStep)
			transport := &scriptedTransport{steps: steps}
			rec := &sleepRecorder{}

			c, _ := newTestClient(t, Config{},
				WithHTTPClient(&http.Client{Transport: transport}),
				WithSleep(rec.sleep),
			)

			record, err := c.FetchWithOptions(context.Background(), "Paris", 3, time.Second)
			require.NoError(t, err)
			assert.Equal(t, "Paris", record["name"])
			assert.Equal(t, tt.failures+1, transport.calls)
			assert.Equal(t, tt.wantSleep, rec.total())
		})
	}
}

func TestFetch_TimeoutExhaustsRetries(t *testing.T) {
	transport := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){timeoutStep}}
	rec := &sleepRecorder{}
	c, m := newTestClient(t, Config{},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(rec.sleep),
	)

	_, err := c.FetchWithOptions(context.Background(), "Oslo", 3, time.Second)
	apiErr := requireAPIError(t, err)

	assert.Equal(t, models.KindTimeout, apiErr.Kind)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Contains(t, apiErr.Error(), "timeout after 3 attempts")
	assert.True(t, apiErr.IsTransient())
	assert.Equal(t, 3, transport.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrorsTotal.WithLabelValues("timeout")))
}

func TestFetch_ConnectionErrorRetried(t *testing.T) {
	transport := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){refusedStep}}
	rec := &sleepRecorder{}
	c, _ := newTestClient(t, Config{},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(rec.sleep),
	)

	_, err := c.FetchWithOptions(context.Background(), "Oslo", 3, time.Second)
	apiErr := requireAPIError(t, err)

	assert.Equal(t, models.KindConnection, apiErr.Kind)
	assert.Contains(t, apiErr.Error(), "connection error")
	assert.Equal(t, 3, transport.calls)
	assert.Len(t, rec.delays, 2)
}

func TestFetch_UnclassifiedTransportErrorNotRetried(t *testing.T) {
	transport := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) { return nil, errors.New("tls: bad certificate") },
	}}
	rec := &sleepRecorder{}
	c, _ := newTestClient(t, Config{},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(rec.sleep),
	)

	_, err := c.FetchWithOptions(context.Background(), "Oslo", 3, time.Second)
	apiErr := requireAPIError(t, err)

	assert.Equal(t, models.KindClient, apiErr.Kind)
	assert.Contains(t, apiErr.Error(), "bad certificate")
	assert.Equal(t, 1, transport.calls)
	assert.Empty(t, rec.delays)
}

func TestFetch_StatusClassification(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []int
		wantErr     bool
		wantKind    models.FetchErrorKind
		wantCalls   int32
		wantMessage string
	}{
		{
			name:        "404 is not retried",
			statuses:    []int{404},
			wantErr:     true,
			wantKind:    models.KindNotFound,
			wantCalls:   1,
			wantMessage: "not found",
		},
		{
			name:        "401 is not retried",
			statuses:    []int{401},
			wantErr:     true,
			wantKind:    models.KindClient,
			wantCalls:   1,
			wantMessage: "HTTP error: status 401",
		},
		{
			name:        "5xx exhausts retries",
			statuses:    []int{503},
			wantErr:     true,
			wantKind:    models.KindServer,
			wantCalls:   3,
			wantMessage: "server error after 3 attempts",
		},
		{
			name:      "5xx then success",
			statuses:  []int{500, 200},
			wantErr:   false,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&calls, 1)) - 1
				if n >= len(tt.statuses) {
					n = len(tt.statuses) - 1
				}
				status := tt.statuses[n]
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte(parisBody))
					return
				}
				_, _ = w.Write([]byte(`{"cod":"x","message":"nope"}`))
			}))
			defer srv.Close()

			rec := &sleepRecorder{}
			c, _ := newTestClient(t, Config{BaseURL: srv.URL}, WithSleep(rec.sleep))

			record, err := c.FetchWithOptions(context.Background(), "Atlantis", 3, time.Second)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "Paris", record["name"])
				return
			}

			apiErr := requireAPIError(t, err)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Contains(t, apiErr.Error(), tt.wantMessage)
			assert.Equal(t, "Atlantis", apiErr.City)
		})
	}
}

func TestFetch_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{BaseURL: srv.URL})
	_, err := c.Fetch(context.Background(), "Paris")
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.KindDecode, apiErr.Kind)
}

func TestFetch_BodyStallRetriedAsTimeout(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c, m := newTestClient(t, Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MaxRetries: 3},
		WithSleep(rec.sleep),
	)

	_, err := c.Fetch(context.Background(), "Paris")
	apiErr := requireAPIError(t, err)

	assert.Equal(t, models.KindTimeout, apiErr.Kind)
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Contains(t, apiErr.Error(), "timeout after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrorsTotal.WithLabelValues("timeout")))
}

func TestFetch_BodyResetRetriedAsConnectionError(t *testing.T) {
	transport := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){
		func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     make(http.Header),
				Body: io.NopCloser(io.MultiReader(
					strings.NewReader(`{"name":"Pa`),
					&failingReader{err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}},
				)),
				Request: req,
			}, nil
		},
		okStep,
	}}
	rec := &sleepRecorder{}
	c, _ := newTestClient(t, Config{},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(rec.sleep),
	)

	record, err := c.FetchWithOptions(context.Background(), "Paris", 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Paris", record["name"])
	assert.Equal(t, 2, transport.calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestFetch_CanceledDuringBackoff(t *testing.T) {
	transport := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){timeoutStep}}
	ctx, cancel := context.WithCancel(context.Background())

	c, _ := newTestClient(t, Config{},
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := c.FetchWithOptions(ctx, "Oslo", 3, time.Second)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.KindCanceled, apiErr.Kind)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, transport.calls)
}

func TestFetch_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, m := newTestClient(t, Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Hour},
		WithSleep((&sleepRecorder{}).sleep),
	)

	for i := 0; i < 2; i++ {
		_, err := c.FetchWithOptions(context.Background(), "Oslo", 1, time.Second)
		assert.Equal(t, models.KindServer, requireAPIError(t, err).Kind)
	}

	_, err := c.FetchWithOptions(context.Background(), "Berlin", 1, time.Second)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.KindCircuitOpen, apiErr.Kind)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the server")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues(breakerName)))
}

func TestFetch_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{BaseURL: srv.URL, BreakerFailures: 1, BreakerCooldown: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "Atlantis")
		assert.Equal(t, models.KindNotFound, requireAPIError(t, err).Kind)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestBackoff(t *testing.T) {
	c, _ := newTestClient(t, Config{BaseDelay: 100 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 400*time.Millisecond, c.backoff(2))
}
