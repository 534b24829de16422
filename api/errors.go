package api

import (
	"fmt"
	"strings"
)

// ResponseError is a client-level response failure that still carries a
// status, message and headers: malformed responses, redirect limits, and
// similar errors surfaced by the transport. The relay normalizes these
// into a RelayResult instead of propagating them.
type ResponseError struct {
	Status  int
	Message string
	Headers []Header
}

// Error returns the error message.
func (e *ResponseError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("response error %d: %s", e.Status, e.Message)
	}
	return "response error: " + e.Message
}

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error for errors.Is/As matching.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ErrorResponse is the JSON body returned for failed API calls.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SanitizeMessage strips line breaks from an error message before it is
// written into a response body.
func SanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", " ")
	return strings.ReplaceAll(msg, "\n", " ")
}
