// Package metadata persists one document per finished measurement or
// attachment upload and answers the existence queries backing the
// deduplication guarantee.
package metadata

import "time"

// UploadMetaData is the descriptive record of one finished upload. It is
// created once, at finalization, and never mutated afterwards.
type UploadMetaData struct {
	// DeviceID and MeasurementID identify the measurement on the device.
	DeviceID      string
	MeasurementID string
	// AttachmentID is empty for the measurement's own upload and set for
	// an attached file belonging to it.
	AttachmentID string

	// UserID is the owning, already-authenticated user.
	UserID string

	// Length is the declared total byte length of the upload.
	Length int64

	// Device/OS/app version strings reported by the client.
	DeviceType string
	OSVersion  string
	AppVersion string

	// StorageName is the server-assigned retrievable object name in the
	// durable backend.
	StorageName string
}

// Document is the persisted representation of UploadMetaData.
type Document struct {
	// ID is the server-assigned document id.
	ID string

	UploadMetaData

	UploadedAt time.Time
}
