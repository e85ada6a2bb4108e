package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed remote call
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// Unauthorized means the credential or endpoint configuration was rejected or missing
	Unauthorized
	// Unreachable covers network and service-side failures
	Unreachable
	// Malformed means the response could not be parsed
	Malformed
	// Unsupported means the service rejected the image format or size
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case Unreachable:
		return "Unreachable"
	case Malformed:
		return "Malformed"
	case Unsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// MarshalText lets the kind render by name in JSON
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Sentinels for errors.Is comparisons against an *AnalysisError kind
var (
	ErrUnauthorized = &AnalysisError{Kind: Unauthorized}
	ErrUnreachable  = &AnalysisError{Kind: Unreachable}
	ErrMalformed    = &AnalysisError{Kind: Malformed}
	ErrUnsupported  = &AnalysisError{Kind: Unsupported}
)

// AnalysisError is returned by every AnalysisClient method on failure
type AnalysisError struct {
	Kind       ErrorKind
	Op         string // "analyze" or "ocr"
	StatusCode int    // HTTP status when the service answered
	Code       string // service specific error code, if any
	Err        error
}

func (e *AnalysisError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Is matches any *AnalysisError with the same kind
func (e *AnalysisError) Is(target error) bool {
	t, ok := target.(*AnalysisError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an AnalysisError
func NewError(kind ErrorKind, op string, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err is not an AnalysisError
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// AsAnalysisError converts any error into an *AnalysisError.
// Errors of unknown origin are treated as Unreachable.
func AsAnalysisError(op string, err error) *AnalysisError {
	if err == nil {
		return nil
	}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae
	}
	return &AnalysisError{Kind: Unreachable, Op: op, Err: err}
}

// KindForStatus maps an HTTP status code to an error kind
func KindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Unauthorized
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return Unsupported
	default:
		return Unreachable
	}
}
