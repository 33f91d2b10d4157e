// Package errors provides the structured error type shared by the aemfed
// components.
//
// Errors are classified by ErrorType so callers can decide how to degrade:
// network errors from remote fetches are recoverable and usually end in a
// full browser reload, parse errors are logged and the offending row or field
// is skipped, and resolve errors signal that a proxied path could not be
// mapped back to a client library.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeResolve  ErrorType = "resolve"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// FedError is a structured error type with context.
type FedError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *FedError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FedError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FedError) Is(target error) bool {
	var t *FedError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FedError) WithContext(key string, value interface{}) *FedError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *FedError) WithLocation(filePath string, line, column int) *FedError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithComponent adds component context.
func (e *FedError) WithComponent(component string) *FedError {
	e.Component = component

	return e
}

// NewNetworkError creates an error for a failed remote fetch.
func NewNetworkError(operation, endpoint string, cause error) *FedError {
	return &FedError{
		Type:        ErrorTypeNetwork,
		Code:        "ERR_NETWORK_" + strings.ToUpper(operation),
		Message:     fmt.Sprintf("%s failed for %s", operation, endpoint),
		Cause:       cause,
		Context:     map[string]interface{}{"endpoint": endpoint},
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FedError {
	return &FedError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewParseError creates an error for remote or local data with an unexpected shape.
func NewParseError(code, message string) *FedError {
	return &FedError{
		Type:        ErrorTypeParse,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewResolveError creates an error for a path that could not be mapped to a known target.
func NewResolveError(path, message string) *FedError {
	return &FedError{
		Type:        ErrorTypeResolve,
		Code:        "ERR_RESOLVE",
		Message:     message,
		Context:     map[string]interface{}{"path": path},
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FedError {
	return &FedError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// IsRecoverable reports whether err is a FedError marked as recoverable.
func IsRecoverable(err error) bool {
	var fe *FedError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

// IsType reports whether err is a FedError of the given type.
func IsType(err error, errType ErrorType) bool {
	var fe *FedError
	if errors.As(err, &fe) {
		return fe.Type == errType
	}

	return false
}
