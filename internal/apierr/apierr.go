// Package apierr defines the error kinds shared across the inference
// pipeline and the HTTP layer that surfaces them.
package apierr

import "fmt"

// Kind is an abstract error category, independent of any transport.
type Kind string

const (
	BadInput        Kind = "BadInput"
	StudyNotFound   Kind = "StudyNotFound"
	NotEligible     Kind = "NotEligible"
	IOFailure       Kind = "IOFailure"
	PreprocessError Kind = "PreprocessError"
	ModelNotLoaded  Kind = "ModelNotLoaded"
	ModelLoadFailed Kind = "ModelLoadFailed"
	InferenceFailed Kind = "InferenceFailed"
	Overloaded      Kind = "Overloaded"
	Timeout         Kind = "Timeout"
	Cancelled       Kind = "Cancelled"
	CacheFailure    Kind = "CacheFailure"
	Internal        Kind = "Internal"
)

// Error wraps a Kind with a human-readable detail and an optional cause.
type Error struct {
	Kind    Kind
	Detail  string
	StudyID string
	Cause   error
}

func (e *Error) Error() string {
	if e.StudyID != "" {
		return fmt.Sprintf("%s: %s (study=%s)", e.Kind, e.Detail, e.StudyID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with the given kind and formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and detail to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// WithStudy returns a copy of the error annotated with a study id.
func (e *Error) WithStudy(studyID string) *Error {
	cp := *e
	cp.StudyID = studyID
	return &cp
}

// As extracts an *Error from err, or returns a freshly-wrapped Internal
// error if err is not already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if ok := errorsAs(err, &apiErr); ok {
		return apiErr
	}
	return &Error{Kind: Internal, Detail: err.Error(), Cause: err}
}

// errorsAs walks err's Unwrap chain by hand looking for an *Error, so
// this file needs no import of the "errors" package.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
