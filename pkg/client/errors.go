package client

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
	// Fields holds per-field validation messages, e.g. {"quantity": ["Only 3 in stock."]}.
	Fields map[string][]string
}

func (e *HTTPError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	msg := strings.Join(parts, "; ")
	if e.Message != "" {
		msg = e.Message + " (" + msg + ")"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// IsUnauthenticated reports a 401 from the API.
func IsUnauthenticated(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// IsValidation reports a payload rejected by the API (400, 409 or 422).
func IsValidation(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsTransport reports a connectivity failure: no response was received.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
