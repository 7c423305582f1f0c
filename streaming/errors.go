package streaming

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStatementNotBound is returned when a statement is configured or
	// executed on a connection other than the one it was prepared on.
	ErrStatementNotBound = errors.New("cormstream: statement is bound to another connection")
	// ErrStatementExecuted is returned when a statement is configured or
	// executed after it already ran.
	ErrStatementExecuted = errors.New("cormstream: statement already executed")
)

// DriverConfigurationError reports that the driver rejected a streaming
// setting. It is returned to the caller as is and never retried.
type DriverConfigurationError struct {
	Dialect string
	Setting string
	Value   any
	Err     error
}

func (e *DriverConfigurationError) Error() string {
	msg := "cormstream: " + e.dialectName() + " rejected " + e.Setting
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DriverConfigurationError) Unwrap() error { return e.Err }

func (e *DriverConfigurationError) dialectName() string {
	if e.Dialect == "" {
		return "driver"
	}
	return e.Dialect
}
