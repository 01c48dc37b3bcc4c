package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
	"github.com/dmitrijs2005/measurekeeper/internal/dbx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// properties is the GeoJSON-style properties block persisted with each
// document.
type properties struct {
	DeviceID      string `json:"deviceId"`
	MeasurementID string `json:"measurementId"`
	AttachmentID  string `json:"attachmentId,omitempty"`
	UserID        string `json:"userId"`
	Filename      string `json:"filename"`
	Length        int64  `json:"length"`
	DeviceType    string `json:"deviceType,omitempty"`
	OSVersion     string `json:"osVersion,omitempty"`
	AppVersion    string `json:"appVersion,omitempty"`
	UploadedAt    string `json:"uploadedAt"`
}

// Store appends one metadata document. The partial unique indexes on the
// identity tuple are authoritative for deduplication: a violation is
// reported as ErrDuplicateUpload, regardless of what an earlier exists
// pre-check saw.
func (r *PostgresRepository) Store(ctx context.Context, md *UploadMetaData) (string, error) {
	id := uuid.New().String()
	uploadedAt := time.Now().UTC()

	props, err := json.Marshal(properties{
		DeviceID:      md.DeviceID,
		MeasurementID: md.MeasurementID,
		AttachmentID:  md.AttachmentID,
		UserID:        md.UserID,
		Filename:      md.StorageName,
		Length:        md.Length,
		DeviceType:    md.DeviceType,
		OSVersion:     md.OSVersion,
		AppVersion:    md.AppVersion,
		UploadedAt:    uploadedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}

	query := `
		INSERT INTO measurements (id, device_id, measurement_id, attachment_id, user_id, filename, length, properties, uploaded_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9);
	`
	_, err = r.db.ExecContext(ctx, query,
		id, md.DeviceID, md.MeasurementID, md.AttachmentID, md.UserID,
		md.StorageName, md.Length, props, uploadedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", fmt.Errorf("%w: device %s measurement %s",
				common.ErrDuplicateUpload, md.DeviceID, md.MeasurementID)
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// ExistsMeasurement reports whether a measurement document (no attachment
// id) exists for the identity.
func (r *PostgresRepository) ExistsMeasurement(ctx context.Context, deviceID, measurementID string) (bool, error) {
	query := `SELECT count(*) FROM measurements
		WHERE device_id=$1 AND measurement_id=$2 AND attachment_id IS NULL
		`
	return r.exists(ctx, query, deviceID, measurementID)
}

// ExistsAttachment reports whether an attachment document exists for the
// identity.
func (r *PostgresRepository) ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	query := `SELECT count(*) FROM measurements
		WHERE device_id=$1 AND measurement_id=$2 AND attachment_id=$3
		`
	return r.exists(ctx, query, deviceID, measurementID, attachmentID)
}

func (r *PostgresRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count documents: %w", err)
	}
	switch {
	case n == 0:
		return false, nil
	case n == 1:
		return true, nil
	default:
		// The dedup invariant was already broken by a prior write.
		// Surfaced unretried, never auto-resolved.
		return false, fmt.Errorf("%w: %d documents match one identity", common.ErrCorruptedMetadataState, n)
	}
}
