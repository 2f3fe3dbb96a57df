package geolib

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

type httpClient struct {
	userAgent      string
	timeout        time.Duration
	client         *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *circuitBreaker
}

// cancelOnCloseBody releases a request context when a response body is
// closed.
type cancelOnCloseBody struct {
	io.ReadCloser

	cancel context.CancelFunc
}

func (c cancelOnCloseBody) Close() error {
	defer c.cancel()

	return c.ReadCloser.Close()
}

func (h httpClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})

	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
	}

	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.circuitBreaker.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		if err := h.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrCircuitBreakerIgnore, err)
		}

		resp, err := h.client.Do(req.WithContext(ctx))
		if err != nil {
			flushResponse(resp)

			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			flushResponse(resp)

			return nil, fmt.Errorf("netloc has responded with %s", resp.Status)
		}

		return resp, nil
	})
	if err != nil || resp == nil {
		cancel()

		return nil, err
	}

	// a response body is read after Do returns
	resp.Body = cancelOnCloseBody{
		ReadCloser: resp.Body,
		cancel:     cancel,
	}

	return resp, nil
}

func flushResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	io.Copy(io.Discard, resp.Body) // nolint: errcheck
	resp.Body.Close()
}

// HTTPClientOpts are parameters of HTTP client for remote providers.
//
// Please see https://pkg.go.dev/golang.org/x/time/rate to get a meaning
// of rate limiter parameters.
//
// CircuitBreakerOpenThreshold is a number of failures after which
// circuit breaker becomes OPEN and blocks access to a target.
//
// CircuitBreakerResetFailuresTimeout is a period after which a
// failure counter of CLOSED circuit breaker is reset.
//
// CircuitBreakerHalfOpenTimeout is a period after which OPEN circuit
// breaker goes into HALF_OPEN state. Within this state we allow 1
// attempt. If this attempt fails, then it goes into OPEN state again.
// If succeed, goes to CLOSED.
type HTTPClientOpts struct {
	UserAgent                          string
	Timeout                            time.Duration
	RateLimitInterval                  time.Duration
	RateLimitBurst                     int
	CircuitBreakerOpenThreshold        uint32
	CircuitBreakerHalfOpenTimeout      time.Duration
	CircuitBreakerResetFailuresTimeout time.Duration
	Clock                              clock.Clock
}

// NewHTTPClient wraps a client with rate limiter, circuit breaker,
// sets a user agent etc. Responses with 4xx statuses are returned as
// is: they are meaningful for providers. 5xx statuses are failures.
func NewHTTPClient(client *http.Client, opts HTTPClientOpts) HTTPClient {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 1
	}

	limit := rate.Inf
	if opts.RateLimitInterval > 0 {
		limit = rate.Every(opts.RateLimitInterval)
	}

	if opts.CircuitBreakerOpenThreshold == 0 {
		opts.CircuitBreakerOpenThreshold = 5
	}

	if opts.CircuitBreakerHalfOpenTimeout <= 0 {
		opts.CircuitBreakerHalfOpenTimeout = time.Minute
	}

	if opts.CircuitBreakerResetFailuresTimeout <= 0 {
		opts.CircuitBreakerResetFailuresTimeout = time.Minute
	}

	return httpClient{
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		client:      client,
		rateLimiter: rate.NewLimiter(limit, opts.RateLimitBurst),
		circuitBreaker: newCircuitBreaker(opts.Clock,
			opts.CircuitBreakerOpenThreshold,
			opts.CircuitBreakerHalfOpenTimeout,
			opts.CircuitBreakerResetFailuresTimeout),
	}
}
