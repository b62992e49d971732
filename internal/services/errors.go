package services

import (
	"fmt"
	"sort"
	"strings"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// UpstreamError reports a failed call to the model provider. StatusCode is zero
// when no HTTP response was received (timeout, connection refused, ...).
type UpstreamError struct {
	Provider   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s request failed: %s", e.Provider, e.Detail)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
