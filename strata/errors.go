package strata

import (
	"errors"
	"fmt"
)

// Error sentinel values for common conditions. Structured detail types below
// unwrap to these, so callers can branch with errors.Is and still recover
// the offending path, key, or column with errors.As.
var (
	// ErrFilterSpec indicates a malformed filter document: unknown operator,
	// missing operator field, bad nesting, or a column absent from the
	// active schema. Raised before any partition is read.
	ErrFilterSpec = errors.New("invalid filter spec")

	// ErrIndex indicates a partition that is unreadable, corrupt, or empty
	// while building or reading the dataset index.
	ErrIndex = errors.New("invalid partition")

	// ErrDayKey indicates daily mode was requested but a partition carries
	// no day key.
	ErrDayKey = errors.New("missing day key")

	// ErrUnknownColumn indicates a requested column is absent from the
	// dataset schema.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrInvalidPath indicates a path that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

// -----------------------------------------------------------------------------
// Structured error details
// -----------------------------------------------------------------------------

// FilterSpecError reports which filter key was malformed.
type FilterSpecError struct {
	Key     string
	Message string
}

func (e *FilterSpecError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid filter spec: %s", e.Message)
	}
	return fmt.Sprintf("invalid filter spec: key %q: %s", e.Key, e.Message)
}

func (e *FilterSpecError) Unwrap() error { return ErrFilterSpec }

// PartitionError reports which partition failed and why.
type PartitionError struct {
	Path    string
	Message string
	Cause   error
}

func (e *PartitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("partition %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("partition %s: %s", e.Path, e.Message)
}

func (e *PartitionError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrIndex
}

// Is lets a PartitionError match ErrIndex even when it wraps an I/O cause.
func (e *PartitionError) Is(target error) bool { return target == ErrIndex }

// DayKeyError reports the partition that lacks a day key.
type DayKeyError struct {
	Path string
}

func (e *DayKeyError) Error() string {
	return fmt.Sprintf("partition %s: missing day key", e.Path)
}

func (e *DayKeyError) Unwrap() error { return ErrDayKey }

// UnknownColumnError reports a column name absent from the schema.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q", e.Column)
}

func (e *UnknownColumnError) Unwrap() error { return ErrUnknownColumn }
