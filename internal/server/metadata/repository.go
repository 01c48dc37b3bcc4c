package metadata

import "context"

// Repository is the metadata database seen by the upload coordinator.
//
// Writes are append-only; documents are never mutated in place. The exists
// queries discriminate on the attachment field explicitly, so a measurement
// query never matches an attachment document and vice versa. An exists query
// matching more than one document fails with ErrCorruptedMetadataState and
// is never silently resolved.
type Repository interface {
	// Store writes one metadata document and returns its server-assigned
	// id. A uniqueness violation on the identity tuple surfaces as
	// ErrDuplicateUpload.
	Store(ctx context.Context, md *UploadMetaData) (string, error)

	// ExistsMeasurement reports whether a document without an attachment
	// id exists for (deviceID, measurementID).
	ExistsMeasurement(ctx context.Context, deviceID, measurementID string) (bool, error)

	// ExistsAttachment reports whether a document exists for
	// (deviceID, measurementID, attachmentID).
	ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error)
}
