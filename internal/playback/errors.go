package playback

import (
	"errors"
	"fmt"

	"github.com/dgnsrekt/readaloud/internal/speech"
)

// Common errors for the playback engine.
var (
	// Environment errors
	ErrUnsupportedEnvironment = errors.New("speech synthesis is not supported here")

	// Content errors
	ErrEmptyContent = errors.New("nothing to read")

	// Backend errors
	ErrBackendStart   = errors.New("speech backend failed to start")
	ErrBackendRuntime = errors.New("speech backend failed")

	// Call errors
	ErrDestroyed      = errors.New("player has been destroyed")
	ErrInvalidSetting = errors.New("invalid setting")
)

// ErrorKind classifies errors surfaced in State.Error.
type ErrorKind int

const (
	// ErrorNone means no error.
	ErrorNone ErrorKind = iota
	// ErrorUnsupportedEnvironment means the capability probe failed.
	ErrorUnsupportedEnvironment
	// ErrorEmptyContent means normalization produced nothing speakable.
	ErrorEmptyContent
	// ErrorBackendStart means the backend rejected a speak or resume.
	ErrorBackendStart
	// ErrorBackendRuntime means synthesis failed mid-utterance.
	ErrorBackendRuntime
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return ""
	case ErrorUnsupportedEnvironment:
		return "unsupported_environment"
	case ErrorEmptyContent:
		return "empty_content"
	case ErrorBackendStart:
		return "backend_start_failure"
	case ErrorBackendRuntime:
		return "backend_runtime_error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for c := ErrorNone; c <= ErrorBackendRuntime; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorUnsupportedEnvironment:
		return ErrUnsupportedEnvironment
	case ErrorEmptyContent:
		return ErrEmptyContent
	case ErrorBackendStart:
		return ErrBackendStart
	case ErrorBackendRuntime:
		return ErrBackendRuntime
	}
	return nil
}

// Error is a classified playback error.
type Error struct {
	Kind  ErrorKind
	Op    string            // operation that failed
	Chunk int               // chunk index at the time of the failure
	Cause speech.ErrorCause // backend cause, if any
	Err   error             // underlying error
}

func (e *Error) Error() string {
	msg := "playback error"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Kind == ErrorBackendRuntime || e.Kind == ErrorBackendStart {
		msg = fmt.Sprintf("%s at chunk %d", msg, e.Chunk+1)
	}
	if e.Cause != "" {
		msg += " (" + string(e.Cause) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of err, or ErrorNone when err is not a playback
// error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorNone
}
