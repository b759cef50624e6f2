package llm

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a provider lacks credentials or a model name.
var ErrNotConfigured = errors.New("llm provider not configured")

// ErrorKind classifies classifier failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // request failed or timed out
	KindEmpty     ErrorKind = "empty"     // provider returned no content
	KindDecode    ErrorKind = "decode"    // content was not valid JSON
	KindSchema    ErrorKind = "schema"    // JSON did not match the expected shape
)

// Error is the failure of one classifier call.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classifier error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
