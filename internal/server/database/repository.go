package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	ErrUploadNotFound = errors.New("upload not found")
)

const uploadColumns = `storage_id, original_name, extension, mime_type, size,
	digest, status, received_at, settled_at`

// Repository persists the upload ledger.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Record inserts a ledger row for a freshly staged upload.
func (r *Repository) Record(ctx context.Context, upload *Upload) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO uploads (`+uploadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		upload.StorageID,
		upload.OriginalName,
		upload.Extension,
		upload.MimeType,
		upload.Size,
		upload.Digest,
		upload.Status,
		upload.ReceivedAt,
		upload.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// MarkSettled stores the processor outcome for an upload.
func (r *Repository) MarkSettled(ctx context.Context, storageID, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE uploads SET status = $2, settled_at = NOW() WHERE storage_id = $1",
		storageID, status)
	if err != nil {
		return fmt.Errorf("failed to settle upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// GetByID retrieves an upload by its storage identifier.
func (r *Repository) GetByID(ctx context.Context, storageID string) (*Upload, error) {
	row := r.db.Pool.QueryRow(ctx,
		"SELECT "+uploadColumns+" FROM uploads WHERE storage_id = $1", storageID)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// GetExpired returns uploads received before the cutoff.
func (r *Repository) GetExpired(ctx context.Context, cutoff time.Time) ([]*Upload, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+uploadColumns+" FROM uploads WHERE received_at < $1 ORDER BY received_at", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired upload: %w", err)
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

// Delete removes a ledger row.
func (r *Repository) Delete(ctx context.Context, storageID string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM uploads WHERE storage_id = $1", storageID)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUploadNotFound
	}
	return nil
}

// GetStats returns aggregate ledger statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COALESCE(SUM(size), 0)
		FROM uploads
	`, StatusStaged, StatusDispatched, StatusFailed).Scan(
		&stats.TotalUploads,
		&stats.Staged,
		&stats.Dispatched,
		&stats.Failed,
		&stats.BytesStaged,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func scanUpload(row pgx.Row) (*Upload, error) {
	upload := &Upload{}
	err := row.Scan(
		&upload.StorageID,
		&upload.OriginalName,
		&upload.Extension,
		&upload.MimeType,
		&upload.Size,
		&upload.Digest,
		&upload.Status,
		&upload.ReceivedAt,
		&upload.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return upload, nil
}
