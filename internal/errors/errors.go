// Package errors provides structured error types for greeter.
//
// This package defines custom error types that provide better error handling
// and error categorization for consistent reporting across the application.
// An interrupted wait is a cancellation, not an error, and never becomes a
// GreeterError.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"syscall"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeOutput   ErrorType = "output"
	ErrorTypeSignal   ErrorType = "signal"
	ErrorTypeMetrics  ErrorType = "metrics"
	ErrorTypeState    ErrorType = "state"
	ErrorTypeInternal ErrorType = "internal"
)

// Error codes
const (
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
	CodeReloadFailed   = "RELOAD_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeBrokenPipe     = "BROKEN_PIPE"
	CodeSignalSetup    = "SIGNAL_SETUP"
	CodeMetricsServe   = "METRICS_SERVE"
	CodeAlreadyRun     = "ALREADY_RUN"
	CodeLoggerSetup    = "LOGGER_SETUP"
	CodePanicRecovered = "PANIC_RECOVERED"
	CodeUnknown        = "UNKNOWN_ERROR"
)

// GreeterError is the base error type for all greeter errors
type GreeterError struct {
	Type       ErrorType
	Code       string
	Message    string
	Underlying error
	Details    map[string]interface{}
	StackTrace []string
	Timestamp  time.Time
}

// Error implements the error interface
func (e *GreeterError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Type, e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GreeterError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches another error
func (e *GreeterError) Is(target error) bool {
	if t, ok := target.(*GreeterError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithDetails adds details to the error
func (e *GreeterError) WithDetails(key string, value interface{}) *GreeterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithOperation adds operation context to an error
func (e *GreeterError) WithOperation(operation string) *GreeterError {
	return e.WithDetails("operation", operation)
}

// Common error constructors

func newError(errorType ErrorType, code, message string, underlying error) *GreeterError {
	return &GreeterError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// ConfigError creates a configuration error
func ConfigError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeConfig, code, message, underlying)
}

// OutputError creates an output stream error
func OutputError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeOutput, code, message, underlying)
}

// SignalError creates a signal handling error
func SignalError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeSignal, code, message, underlying)
}

// MetricsError creates a metrics error
func MetricsError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeMetrics, code, message, underlying)
}

// StateError creates a lifecycle error
func StateError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeState, code, message, underlying)
}

// InternalError creates an internal error
func InternalError(code, message string, underlying error) *GreeterError {
	return newError(ErrorTypeInternal, code, message, underlying)
}

// Predefined error instances

var (
	ErrBrokenPipe = OutputError(CodeBrokenPipe, "Output stream closed", nil)
	ErrAlreadyRun = StateError(CodeAlreadyRun, "Greeter has already been run", nil)
)

// ClassifyError attempts to classify a standard Go error into a greeter error
func ClassifyError(err error) *GreeterError {
	if err == nil {
		return nil
	}

	var greeterErr *GreeterError
	if stderrors.As(err, &greeterErr) {
		return greeterErr
	}

	switch {
	case stderrors.Is(err, syscall.EPIPE), stderrors.Is(err, io.ErrClosedPipe), stderrors.Is(err, os.ErrClosed):
		return OutputError(CodeBrokenPipe, "Output stream closed", err)
	case os.IsNotExist(err):
		return ConfigError(CodeConfigNotFound, "File not found", err)
	default:
		return InternalError(CodeUnknown, "Unknown error", err)
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var greeterErr *GreeterError
	if stderrors.As(err, &greeterErr) {
		return greeterErr.Type == errorType
	}
	return false
}

// IsCode checks if an error has a specific code
func IsCode(err error, code string) bool {
	var greeterErr *GreeterError
	if stderrors.As(err, &greeterErr) {
		return greeterErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) string {
	var greeterErr *GreeterError
	if stderrors.As(err, &greeterErr) {
		return greeterErr.Code
	}
	return CodeUnknown
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var greeterErr *GreeterError
	if stderrors.As(err, &greeterErr) {
		return greeterErr.Type
	}
	return ErrorTypeInternal
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) []string {
	var stack []string
	pc := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pc)

	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return stack
}

// LogAttrs returns slog attributes for the error
func (e *GreeterError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error_type", string(e.Type)),
		slog.String("error_code", e.Code),
		slog.String("error_message", e.Message),
	}

	if !e.Timestamp.IsZero() {
		attrs = append(attrs, slog.Time("error_timestamp", e.Timestamp))
	}

	if e.Underlying != nil {
		attrs = append(attrs, slog.String("underlying_error", e.Underlying.Error()))
	}

	for key, value := range e.Details {
		attrs = append(attrs, slog.Any(fmt.Sprintf("error_detail_%s", key), value))
	}

	// First few frames only
	if len(e.StackTrace) > 0 {
		maxFrames := 3
		if len(e.StackTrace) < maxFrames {
			maxFrames = len(e.StackTrace)
		}
		attrs = append(attrs, slog.Any("error_stack", e.StackTrace[:maxFrames]))
	}

	return attrs
}

// RecoverError converts a recovered panic value into a greeter error.
// Call it from a deferred function with the result of recover().
func RecoverError(r interface{}) *GreeterError {
	if r == nil {
		return nil
	}

	var err error
	if e, ok := r.(error); ok {
		err = e
	} else {
		err = fmt.Errorf("panic: %v", r)
	}

	return &GreeterError{
		Type:       ErrorTypeInternal,
		Code:       CodePanicRecovered,
		Message:    "Recovered from panic",
		Underlying: err,
		Timestamp:  time.Now(),
		StackTrace: captureStackTrace(2),
	}
}
