package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a trigger arrives while the tenant's
	// run is still non-terminal. It returns synchronously to the caller
	// and never appears mid-run.
	ErrConflict = errors.New("a sync is already running for this tenant")
	// ErrCancelled marks work skipped because the run was cancelled.
	ErrCancelled = errors.New("sync cancelled")
	// ErrUnknownTenant is returned for a tenant with no configured root.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrNotActive is returned when cancelling a run this process does
	// not own or that already reached a terminal state.
	ErrNotActive = errors.New("sync run is not active in this process")
)

// Processing stages recorded on FileError.
const (
	StageScan        = "scan"
	StageChunk       = "chunk"
	StageEmbed       = "embed"
	StageVectorWrite = "vector_write"
)

// FileError is a failure caught at the file-processing boundary. The stage
// tells the retry predicate and the audit log where the pipeline broke.
type FileError struct {
	Path  string
	Stage string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// CommitError wraps a failed metadata commit. It always escalates to fail
// the run: the source of truth may be inconsistent.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("metadata commit failed: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
