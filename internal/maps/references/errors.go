package references

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedDocument = errors.New("MALFORMED_DOCUMENT")
	ErrMissingReference  = errors.New("MISSING_REFERENCE")
)

// MalformedDocumentError reports a serialized attribute that could not be parsed.
type MalformedDocumentError struct {
	Field string
	Err   error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unable to parse attribute %s", e.Field)
	}
	return fmt.Sprintf("unable to parse attribute %s: %v", e.Field, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

func (e *MalformedDocumentError) Is(target error) bool {
	return target == ErrMalformedDocument
}

// MissingReferenceError reports a reference name with no matching entry.
type MissingReferenceError struct {
	Name string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("could not find reference %q", e.Name)
}

func (e *MissingReferenceError) Is(target error) bool {
	return target == ErrMissingReference
}
