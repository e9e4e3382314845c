// Package errors provides the diagnostic model returned by the compiler and the
// structured error payload rendered by the browser error overlay.
//
// Compile problems are data, not Go errors: they travel inside a compiled
// resource so the client can render them. Only configuration problems are
// reported as Go errors, via ConfigError.
package errors

import (
	"fmt"
	"strings"
)

// ErrorSeverity represents the severity of a diagnostic
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// CodeCompilerSilent is the internal diagnostic code used when the compiler
// produced no output at all.
const CodeCompilerSilent = -1

// MessageCompilerSilent accompanies CodeCompilerSilent.
const MessageCompilerSilent = "Compiler output undefined or null"

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseSeverity maps the compiler's level names onto ErrorSeverity.
func ParseSeverity(level string) ErrorSeverity {
	switch strings.ToLower(level) {
	case "info", "log":
		return ErrorSeverityInfo
	case "warn", "warning":
		return ErrorSeverityWarning
	case "fatal":
		return ErrorSeverityFatal
	default:
		return ErrorSeverityError
	}
}

// MarshalText encodes the severity as its name.
func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts both names and the compiler's numeric levels.
func (s *ErrorSeverity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "0":
		*s = ErrorSeverityFatal
	case "1":
		*s = ErrorSeverityError
	case "2":
		*s = ErrorSeverityWarning
	case "3":
		*s = ErrorSeverityInfo
	default:
		*s = ParseSeverity(string(text))
	}
	return nil
}

// Location points at a position in a source file.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Diagnostic is a single compiler message.
type Diagnostic struct {
	Code     int           `json:"code"`
	Message  string        `json:"message"`
	Level    ErrorSeverity `json:"level"`
	Location *Location     `json:"location,omitempty"`
}

// IsFatal reports whether the diagnostic blocks serving the module.
func (d Diagnostic) IsFatal() bool {
	return d.Level == ErrorSeverityFatal
}

func (d Diagnostic) String() string {
	if d.Location != nil {
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.Location.File, d.Location.Line, d.Location.Column, d.Level, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Level, d.Message)
}

// FirstFatal returns the first fatal diagnostic, if any.
func FirstFatal(diagnostics []Diagnostic) (Diagnostic, bool) {
	for _, d := range diagnostics {
		if d.IsFatal() {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// ConfigError reports configuration that makes the server unable to start.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error for field.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}
