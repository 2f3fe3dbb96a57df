package geolib

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrInvalidAddress is returned if given string is not a valid IPv4
	// or IPv6 literal. Never retried: this is a client error.
	ErrInvalidAddress = errors.New("invalid IP address")

	// ErrNotFound is a signal from provider that a valid address is
	// absent in its dataset. LookupCache converts it into an error
	// record, it never reaches a caller as error.
	ErrNotFound = errors.New("address is not found")

	// ErrLookupFailed is returned if provider has failed for any
	// other reason. These failures are not cached.
	ErrLookupFailed = errors.New("lookup has failed")

	// ErrInvalidRequest is returned if batch request violates its
	// structural contract: empty, too large, no usable entries.
	ErrInvalidRequest = errors.New("invalid request")

	ErrCacheShutdown        = errors.New("lookup cache was shutdown")
	ErrContextIsClosed      = errors.New("context is closed")
	ErrCircuitBreakerOpened = errors.New("circuit breaker is opened")

	// ErrCircuitBreakerIgnore is returned by circuit breaker callbacks
	// for failures which should not be counted.
	ErrCircuitBreakerIgnore = errors.New("ignore this error")
)

type jsonHTTPError struct {
	Error struct {
		Message string `json:"message"`
		Context string `json:"context"`
	} `json:"error"`
}

type httpError struct {
	message    string
	err        error
	statusCode int
}

func (h *httpError) Message() string {
	if h == nil {
		return ""
	}

	return h.message
}

func (h *httpError) Err() string {
	if err := errors.Unwrap(h); err != nil {
		return err.Error()
	}

	return ""
}

func (h *httpError) StatusCode() int {
	if h != nil && h.statusCode != 0 {
		return h.statusCode
	}

	return http.StatusInternalServerError
}

func (h *httpError) Unwrap() error {
	if h == nil {
		return nil
	}

	return h.err
}

func (h *httpError) Error() string {
	switch {
	case h == nil:
		return ""
	case h.err != nil && h.message != "":
		return h.message + ": " + h.err.Error()
	case h.err != nil:
		return h.err.Error()
	}

	return h.message
}

func (h *httpError) MarshalJSON() ([]byte, error) {
	value := jsonHTTPError{}
	value.Error.Message = h.Message()
	value.Error.Context = h.Err()

	return json.Marshal(&value)
}

// statusCodeFor maps errors of lookup cache to HTTP status codes.
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrLookupFailed), errors.Is(err, ErrCacheShutdown):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
