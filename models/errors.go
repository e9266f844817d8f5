package models

import "fmt"

// FetchError is a recoverable failure while talking to a provider:
// transport error, non-200 status, or a malformed/empty payload. It is
// isolated to the single run or reconciliation item that triggered it.
type FetchError struct {
	Source  Source
	Cadence Cadence
	Reason  string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s/%s: %s: %v", e.Source, e.Cadence, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s/%s: %s", e.Source, e.Cadence, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports an unrecognized source or cadence tag. It is
// rejected before any state mutation.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Field, e.Value)
}

// NotFoundError reports an operation against an unknown prediction or
// run status id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StoreError wraps a persistence layer failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
