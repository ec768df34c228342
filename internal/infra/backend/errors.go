package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/history"
)

// ErrNotFound matches any 404 from the backend.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the backend. Detail is the backend's
// "detail" field when present, otherwise the raw body.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// Is lets callers match by sentinel: 429 is a quota error, 404 is not found.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return target == analysis.ErrQuotaExceeded
	case http.StatusNotFound:
		return target == ErrNotFound || target == history.ErrNotFound
	}
	return false
}

type errorBody struct {
	Detail any `json:"detail"`
}

func (b errorBody) text() string {
	switch d := b.Detail.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		// FastAPI validation errors come as a list
		return fmt.Sprint(d)
	}
}
