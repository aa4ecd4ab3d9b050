// Package errdefs holds the error taxonomy shared by the schema, emitter,
// transform and probe packages.
package errdefs

import "fmt"

// Code categorizes failures so callers can decide whether to surface or
// swallow them.
type Code string

const (
	UnsupportedShape Code = "UnsupportedShape"
	IOWriteError     Code = "IOWriteError"
	IOReadError      Code = "IOReadError"
	FileNotFound     Code = "FileNotFound"
	DetectionMiss    Code = "DetectionMiss"
	ParseError       Code = "ParseError"
	ModuleNotFound   Code = "ModuleNotFound"
)

// Error is a structured error with an optional location (file path or URL).
type Error struct {
	Code     Code
	Message  string
	Location string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Location != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Location)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so errors.Is(err, ErrIOWrite)
// works regardless of message or location.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrUnsupportedShape = &Error{Code: UnsupportedShape}
	ErrIOWrite          = &Error{Code: IOWriteError}
	ErrIORead           = &Error{Code: IOReadError}
	ErrFileNotFound     = &Error{Code: FileNotFound}
	ErrDetectionMiss    = &Error{Code: DetectionMiss}
	ErrParse            = &Error{Code: ParseError}
	ErrModuleNotFound   = &Error{Code: ModuleNotFound}
)

// New builds an *Error for code with a formatted message.
func New(code Code, location string, cause error, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Location: location,
		Cause:    cause,
	}
}
