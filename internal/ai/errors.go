package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient marks rate-limit, timeout and network failures. Callers may retry.
	ErrTransient = errors.New("ai provider transient failure")

	// ErrFatal marks authentication and configuration failures. Retrying will not help.
	ErrFatal = errors.New("ai provider fatal failure")

	// ErrStreamInterrupted is returned when a stream ends before completion.
	ErrStreamInterrupted = errors.New("llm stream interrupted")

	ErrEmptyInput = errors.New("ai input is empty")
)

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// statusError classifies a non-2xx provider response.
func statusError(op string, status int, body []byte) error {
	kind := ErrFatal
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		kind = ErrTransient
	}
	return fmt.Errorf("%w: %s response status %d: %s", kind, op, status, truncate(string(body), 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
