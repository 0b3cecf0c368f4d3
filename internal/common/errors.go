// Package common holds constants and the error taxonomy shared by the
// training pipeline and the prediction service.
//
// Every stage returns one of the typed errors below, wrapped with
// fmt.Errorf("...: %w", err) as it travels up. Callers classify with
// errors.As, never by matching messages.
package common

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid or missing configuration key. Fatal,
// raised before any training work starts.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config: " + e.Reason
	if e.Key != "" {
		msg = fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DataLoadError reports an unreadable or malformed training source.
type DataLoadError struct {
	Path string
	Row  int // 1-based data row, 0 when not row specific
	Err  error
}

func (e *DataLoadError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("data load %s (row %d): %v", e.Path, e.Row, e.Err)
	}
	return fmt.Sprintf("data load %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// PersistError reports a failure writing or reading the model artifact.
type PersistError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ValidationError reports an inference request that does not match the
// artifact's feature schema. Recoverable and scoped to one request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

// ServiceUnavailableError is returned for every request once the service
// failed to load its artifact at startup.
type ServiceUnavailableError struct {
	State string
	Err   error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("service unavailable (state %s)", e.State)
	}
	return fmt.Sprintf("service unavailable (state %s): %v", e.State, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
