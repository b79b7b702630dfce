package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// AddMemory stores a memory record for its scope.
func (db *DB) AddMemory(ctx context.Context, m *models.MemoryRecord) error {
	if err := prepareMemory(m); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := db.Exec(ctx, `
		INSERT INTO memories (id, channel, channel_id, username, content, memory_type, source, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Scope.Channel, m.Scope.ChannelID, nullString(m.Username), m.Content, m.Type,
		nullString(m.Source), nullString(m.TaskID), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// GetMemoryContext returns up to limit of the most recent memories, oldest first.
func (db *DB) GetMemoryContext(ctx context.Context, scope models.Scope, limit int) ([]models.MemoryRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT id, channel, channel_id, username, content, memory_type, source, task_id, created_at
		FROM memories
		WHERE channel = ? AND channel_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, scope.Channel, scope.ChannelID, memoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get memory context: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryRecord
	for rows.Next() {
		var m models.MemoryRecord
		var username, source, taskID sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Scope.Channel, &m.Scope.ChannelID, &username, &m.Content, &m.Type,
			&source, &taskID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Username = username.String
		m.Source = source.String
		m.TaskID = taskID.String
		m.CreatedAt, _ = parseTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	reverseMemories(out)
	return out, nil
}

// FormatMemoryForPrompt renders the scope's recent memories as a prompt digest.
func (db *DB) FormatMemoryForPrompt(ctx context.Context, scope models.Scope, limit int) (string, error) {
	records, err := db.GetMemoryContext(ctx, scope, limit)
	if err != nil {
		return "", err
	}
	return FormatMemories(records), nil
}

// DeleteMemory removes every memory for scope.
func (db *DB) DeleteMemory(ctx context.Context, scope models.Scope) (int64, error) {
	result, err := db.Exec(ctx, `DELETE FROM memories WHERE channel = ? AND channel_id = ?`,
		scope.Channel, scope.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("delete memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
