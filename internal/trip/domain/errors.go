package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResolution = errors.New("timestamp outside representable calendar range")
	ErrFetch      = errors.New("partition fetch failed")
	ErrIO         = errors.New("partition cache io failed")
	ErrSchema     = errors.New("partition schema mismatch")
	ErrScan       = errors.New("partition scan failed")
	ErrValidation = errors.New("invalid request")
)

// FetchError describes a failed download of a partition from the remote source.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFetch) match any *FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// PublicMessage renders err for clients. Local paths and wrapped internals are
// dropped; fetch failures keep the remote address and status.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var fetchErr *FetchError
	switch {
	case errors.As(err, &fetchErr):
		if fetchErr.StatusCode != 0 {
			return fmt.Sprintf("%s: %s returned status %d", ErrFetch, fetchErr.URL, fetchErr.StatusCode)
		}
		return fmt.Sprintf("%s: %s unreachable", ErrFetch, fetchErr.URL)
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrResolution):
		return ErrResolution.Error()
	case errors.Is(err, ErrSchema):
		return schemaDetail(err)
	case errors.Is(err, ErrScan):
		return ErrScan.Error()
	case errors.Is(err, ErrIO):
		return ErrIO.Error()
	default:
		return "internal error"
	}
}

// SchemaError carries the offending column so clients can see which part of
// the dataset format changed.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: column %q %s", ErrSchema, e.Column, e.Reason)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

func schemaDetail(err error) string {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Error()
	}
	return ErrSchema.Error()
}
