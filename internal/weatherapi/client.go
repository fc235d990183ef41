package weatherapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"weather-etl/internal/models"
	"weather-etl/pkg/logging"
	"weather-etl/pkg/metrics"
)

const (
	DefaultBaseURL    = "https://api.openweathermap.org/data/2.5/weather"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	breakerName = "weather-api"
)

var validUnits = map[string]bool{
	"metric":   true,
	"imperial": true,
	"standard": true,
}

// Config configures the weather API client
type Config struct {
	APIKey     string
	BaseURL    string
	Units      string
	Timeout    time.Duration
	MaxRetries int

	// BaseDelay is the backoff unit: attempt n waits 2^n * BaseDelay.
	BaseDelay time.Duration

	// RequestsPerSecond limits outgoing requests; zero disables limiting.
	RequestsPerSecond float64

	// BreakerFailures trips the circuit after that many consecutive
	// transient failures; zero disables the breaker.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSleep replaces the backoff sleep, used by tests to record delays
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// Client fetches current weather for a city with bounded retries
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	sleep      SleepFunc
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClient creates a weather API client. A missing credential or an unknown
// unit system is a *models.ConfigurationError.
func NewClient(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &models.ConfigurationError{
			Field:   "api.key",
			Message: "API key not found, set the WEATHER_API_KEY environment variable",
		}
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if !validUnits[cfg.Units] {
		return nil, &models.ConfigurationError{
			Field:   "api.units",
			Message: fmt.Sprintf("unsupported unit system %q", cfg.Units),
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &models.ConfigurationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL),
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewCollector("weather_etl")
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{},
		sleep:      sleepContext,
		logger:     logger,
		metrics:    metricsCollector,
	}

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.BreakerFailures > 0 {
		c.breaker = c.newBreaker()
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(c.cfg.BreakerFailures)
	cooldown := c.cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.SetBreakerState(name, float64(to))
			c.logger.Warn(context.Background(), "[BREAKER_STATE] Circuit breaker state changed", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// Fetch retrieves the current weather for city using the configured retry
// count and timeout
func (c *Client) Fetch(ctx context.Context, city string) (models.RawWeatherRecord, error) {
	return c.FetchWithOptions(ctx, city, c.cfg.MaxRetries, c.cfg.Timeout)
}

// FetchWithOptions retrieves the current weather for city. Timeouts,
// connection failures and 5xx responses are retried up to maxRetries attempts
// with exponential backoff; 404 and other 4xx responses fail immediately.
// The decoded body is returned unmodified.
func (c *Client) FetchWithOptions(ctx context.Context, city string, maxRetries int, timeout time.Duration) (models.RawWeatherRecord, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	var last attemptResult
	for attempt := 0; attempt < maxRetries; attempt++ {
		c.logger.Debug(ctx, "[FETCH_ATTEMPT] Requesting current weather", logging.Fields{
			"city":    city,
			"attempt": attempt + 1,
		})

		res := c.attempt(ctx, city, timeout)

		switch res.outcome {
		case outcomeSuccess:
			c.metrics.RecordFetchAttempt("success")
			c.logger.Info(ctx, "[FETCH_SUCCESS] Fetched weather", logging.Fields{
				"city":     city,
				"attempts": attempt + 1,
			})
			return res.record, nil

		case outcomeFatal:
			c.metrics.RecordFetchAttempt("fatal")
			return nil, c.fail(ctx, city, attempt+1, res)
		}

		last = res
		c.metrics.RecordFetchAttempt("retry")
		if attempt == maxRetries-1 {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn(ctx, "[FETCH_RETRY] Transient failure, backing off", logging.Fields{
			"city":     city,
			"attempt":  attempt + 1,
			"kind":     string(res.kind),
			"delay_ms": delay.Milliseconds(),
			"cause":    errString(res.cause),
		})

		if err := c.sleep(ctx, delay); err != nil {
			return nil, c.fail(ctx, city, attempt+1, attemptResult{
				outcome: outcomeFatal,
				kind:    models.KindCanceled,
				cause:   err,
			})
		}
	}

	return nil, c.fail(ctx, city, maxRetries, last)
}

// backoff returns 2^attempt * BaseDelay
func (c *Client) backoff(attempt int) time.Duration {
	return c.cfg.BaseDelay * time.Duration(int64(1)<<uint(attempt))
}

func (c *Client) attempt(ctx context.Context, city string, timeout time.Duration) attemptResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return attemptResult{outcome: outcomeFatal, kind: models.KindCanceled, cause: err}
		}
	}

	if c.breaker == nil {
		return c.do(ctx, city, timeout)
	}

	// Only transient outcomes count against the breaker.
	var res attemptResult
	_, err := c.breaker.Execute(func() (interface{}, error) {
		res = c.do(ctx, city, timeout)
		if res.outcome == outcomeRetryable {
			return nil, res.cause
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return attemptResult{outcome: outcomeFatal, kind: models.KindCircuitOpen, cause: err}
	}
	return res
}

func (c *Client) do(ctx context.Context, city string, timeout time.Duration) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.requestURL(city), nil)
	if err != nil {
		return attemptResult{outcome: outcomeFatal, kind: models.KindClient, cause: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Accept", "application/json")

	timer := c.metrics.NewTimer(c.metrics.FetchDuration)
	resp, err := c.httpClient.Do(req)
	timer.ObserveDuration()
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	return classifyResponse(ctx, resp)
}

func (c *Client) requestURL(city string) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("q", city)
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)
	u.RawQuery = q.Encode()
	return u.String()
}

// fail builds the terminal error for a city and records it
func (c *Client) fail(ctx context.Context, city string, attempts int, res attemptResult) error {
	apiErr := &models.WeatherAPIError{
		City:     city,
		Kind:     res.kind,
		Attempts: attempts,
		Message:  failureMessage(city, attempts, res),
		Cause:    res.cause,
	}

	c.metrics.RecordFetchError(string(res.kind))
	c.logger.Warn(ctx, "[FETCH_FAILED] Giving up on city", logging.Fields{
		"city":     city,
		"kind":     string(res.kind),
		"attempts": attempts,
		"status":   res.status,
		"cause":    errString(res.cause),
	})
	return apiErr
}

func failureMessage(city string, attempts int, res attemptResult) string {
	switch res.kind {
	case models.KindTimeout:
		return fmt.Sprintf("timeout after %d attempts", attempts)
	case models.KindConnection:
		return "connection error"
	case models.KindServer:
		return fmt.Sprintf("server error after %d attempts", attempts)
	case models.KindNotFound:
		return fmt.Sprintf("city %q not found", city)
	case models.KindDecode:
		return "invalid response body"
	case models.KindCircuitOpen:
		return "circuit breaker open"
	case models.KindCanceled:
		return "request canceled"
	default:
		if res.status != 0 {
			return fmt.Sprintf("HTTP error: status %d", res.status)
		}
		return "request failed"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// isConnectionError reports dial, DNS and reset failures
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

var errNullBody = errors.New("decode weather response: null body")

func decodeRecord(r io.Reader) (models.RawWeatherRecord, error) {
	var record models.RawWeatherRecord
	if err := json.NewDecoder(r).Decode(&record); err != nil {
		return nil, errors.Wrap(err, "decode weather response")
	}
	if record == nil {
		return nil, errNullBody
	}
	return record, nil
}
