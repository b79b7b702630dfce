package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// SaveAttachment records a file produced by a task.
func (db *DB) SaveAttachment(ctx context.Context, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = newRecordID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	var size sql.NullInt64
	if a.SizeBytes != nil {
		size = sql.NullInt64{Int64: *a.SizeBytes, Valid: true}
	}

	_, err := db.Exec(ctx, `
		INSERT INTO attachments (id, task_id, file_name, file_path, file_type, mime_type, size_bytes, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.FileName, a.FilePath, a.FileType, nullString(a.MimeType), size, a.Delivered, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	return nil
}

// MarkAttachmentDelivered flags an attachment as sent to the user.
func (db *DB) MarkAttachmentDelivered(ctx context.Context, id string) error {
	result, err := db.Exec(ctx, `UPDATE attachments SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark attachment delivered: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark attachment %s delivered: %w", id, ErrNotFound)
	}
	return nil
}

// ListAttachments returns a task's attachments in creation order.
func (db *DB) ListAttachments(ctx context.Context, taskID string) ([]models.Attachment, error) {
	rows, err := db.Query(ctx, `
		SELECT id, task_id, file_name, file_path, file_type, mime_type, size_bytes, delivered, created_at
		FROM attachments WHERE task_id = ? ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var a models.Attachment
		var mime sql.NullString
		var size sql.NullInt64
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &a.FilePath, &a.FileType, &mime, &size, &a.Delivered, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.MimeType = mime.String
		if size.Valid {
			a.SizeBytes = &size.Int64
		}
		a.CreatedAt, _ = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
