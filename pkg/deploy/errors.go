package deploy

import (
	"errors"
	"fmt"
)

// ErrCapacityExhausted is returned when an accelerated deploy finds too
// few free devices to start a single job. It is an operator notice
// rather than a failure.
var ErrCapacityExhausted = errors.New("no free devices")

// ConfigurationError is an invalid job spec or asset layout, detected
// before anything is sent to a host.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, a ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}
