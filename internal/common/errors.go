// Package common defines the error taxonomy shared by the storage, archive and
// job layers. Callers should match with errors.Is against the kind sentinels.
package common

import (
	"errors"
	"fmt"
)

var (

	// error kinds; every specific error below wraps exactly one of them
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrLimitExceeded  = errors.New("limit exceeded")
	ErrUnavailable    = errors.New("unavailable")
	ErrInvalidInput   = errors.New("invalid input")
	ErrPartialFailure = errors.New("partial failure")

	// repository specific errors
	ErrArchiveFileNotFound = fmt.Errorf("archive file not found: %w", ErrNotFound)
	ErrJobNotFound         = fmt.Errorf("job not found: %w", ErrNotFound)
	ErrSnapshotNotFound    = fmt.Errorf("job snapshot not found: %w", ErrNotFound)
	ErrStatusConflict      = fmt.Errorf("status changed concurrently: %w", ErrConflict)
	ErrAlreadyExists       = fmt.Errorf("already exists: %w", ErrConflict)

	// blob store errors
	ErrBlobNotFound       = fmt.Errorf("blob not found: %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("storage credentials not found: %w", ErrNotFound)

	// block-specific errors
	ErrOverlappingRange = fmt.Errorf("overlapping block range: %w", ErrConflict)
	ErrIncompleteUpload = fmt.Errorf("incomplete upload: %w", ErrInvalidInput)

	// archive-specific errors
	ErrBaseCompressed       = fmt.Errorf("base already compressed: %w", ErrConflict)
	ErrBaseInUse            = fmt.Errorf("archive file is a base of other entries: %w", ErrConflict)
	ErrIllegalTransition    = fmt.Errorf("illegal status transition: %w", ErrConflict)
	ErrRestoreCountLimit    = fmt.Errorf("too many restores in flight: %w", ErrLimitExceeded)
	ErrExceedMaxChainLength = fmt.Errorf("exceed max chain length: %w", ErrLimitExceeded)

	// validation errors
	ErrInvalidDigest      = fmt.Errorf("invalid digest: %w", ErrInvalidInput)
	ErrInvalidShardConfig = fmt.Errorf("invalid shard config: %w", ErrInvalidInput)

	// batch job errors
	ErrItemFailed = fmt.Errorf("item failed: %w", ErrPartialFailure)
)

// EntityError attaches the identity of the affected entity to an error so that
// callers can locate it without additional lookups.
type EntityError struct {
	Op           string
	Sha256       string
	NodeFullPath string
	JobName      string
	Err          error
}

func (e *EntityError) Error() string {
	msg := e.Op
	if e.Sha256 != "" {
		msg += " sha256=" + e.Sha256
	}
	if e.NodeFullPath != "" {
		msg += " path=" + e.NodeFullPath
	}
	if e.JobName != "" {
		msg += " job=" + e.JobName
	}
	return msg + ": " + e.Err.Error()
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// WithSha256 wraps err with the digest of the affected object.
func WithSha256(op, sha256 string, err error) error {
	if err == nil {
		return nil
	}
	return &EntityError{Op: op, Sha256: sha256, Err: err}
}

// WithPath wraps err with the logical file path of the affected blocks.
func WithPath(op, nodeFullPath string, err error) error {
	if err == nil {
		return nil
	}
	return &EntityError{Op: op, NodeFullPath: nodeFullPath, Err: err}
}

// WithJob wraps err with the name of the batch job that produced it.
func WithJob(op, jobName string, err error) error {
	if err == nil {
		return nil
	}
	return &EntityError{Op: op, JobName: jobName, Err: err}
}
