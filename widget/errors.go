package widget

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is wrapped by every configuration error.
	ErrConfig = errors.New("filterwidget: invalid config")
	// ErrFetch is wrapped by every catalog fetch failure.
	ErrFetch = errors.New("filterwidget: catalog fetch failed")
)

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filterwidget: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StatusError reports a non-2xx catalog response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("filterwidget: GET %s: status %d", e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrFetch }
