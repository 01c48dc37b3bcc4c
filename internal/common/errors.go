// Package common defines shared constants and sentinel errors used across
// the collector's components. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Protocol-level errors, decided synchronously in the request path.
	// The client is expected to retry with corrected offsets.
	ErrContentRangeMismatch = errors.New("content range mismatch")

	// Finalization errors.
	ErrDuplicateUpload = errors.New("duplicate upload")

	// Transient I/O failure from the durable backend. Retryable: the
	// session is left unchanged so the client can resubmit the chunk.
	ErrStorageFailure = errors.New("storage failure")

	// More than one metadata document matched one identity. Fatal,
	// never auto-resolved.
	ErrCorruptedMetadataState = errors.New("corrupted metadata state")

	// Chunk arrived for an identifier the cleanup sweep already removed.
	// The client restarts the upload from offset 0.
	ErrSessionExpired = errors.New("session expired")

	// A session already exists for the identifier with a different
	// declared total length.
	ErrSessionConflict = errors.New("session conflict")
)

// ErrContentRangeNotMatchingFileSize reports a chunk whose declared range
// length differs from the actual payload byte count. It matches
// ErrContentRangeMismatch under errors.Is.
var ErrContentRangeNotMatchingFileSize = fmt.Errorf("%w: range does not match payload size", ErrContentRangeMismatch)
