package models

import "fmt"

// SourceErrorKind classifies failures of the weather source client.
type SourceErrorKind string

const (
	SourceTransient      SourceErrorKind = "transient"
	SourceAuth           SourceErrorKind = "auth"
	SourceInvalidRequest SourceErrorKind = "invalid_request"
	SourceExhausted      SourceErrorKind = "exhausted"
)

// SourceError is returned by the source client after its own retry policy
// has run its course. Transient and Exhausted errors never abort a run;
// they are surfaced per location in the CollectionReport.
type SourceError struct {
	Kind     SourceErrorKind
	Location string
	Err      error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source error (%s) for %s", e.Kind, e.Location)
	}
	return fmt.Sprintf("source error (%s) for %s: %v", e.Kind, e.Location, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Hard reports whether the failure should make the whole run exit non-zero.
// Transient failures (including a run deadline cutting a fetch short) do not.
func (e *SourceError) Hard() bool { return e.Kind != SourceTransient }

func NewSourceError(kind SourceErrorKind, location string, err error) *SourceError {
	return &SourceError{Kind: kind, Location: location, Err: err}
}

// StorageErrorKind classifies storage sink failures.
type StorageErrorKind string

const (
	StorageUnreachable         StorageErrorKind = "unreachable"
	StorageDuplicateKey        StorageErrorKind = "duplicate_key"
	StorageConstraintViolation StorageErrorKind = "constraint_violation"
)

// StorageError wraps a storage sink failure. DuplicateKey is benign: the
// pipeline treats it as a successful no-op since dedup races by design.
// Unreachable is fatal for the run.
type StorageError struct {
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage error (%s)", e.Kind)
	}
	return fmt.Sprintf("storage error (%s): %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(kind StorageErrorKind, err error) *StorageError {
	return &StorageError{Kind: kind, Err: err}
}

// PipelineErrorKind classifies whole-run failures.
type PipelineErrorKind string

const (
	PipelineConfigInvalid PipelineErrorKind = "config_invalid"
	PipelineStorageDown   PipelineErrorKind = "storage_down"
)

// PipelineError aborts a collection run as a whole.
type PipelineError struct {
	Kind PipelineErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("pipeline error (%s)", e.Kind)
	}
	return fmt.Sprintf("pipeline error (%s): %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewPipelineError(kind PipelineErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}
