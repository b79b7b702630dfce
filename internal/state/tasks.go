package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

const taskColumns = `id, created_at, updated_at, channel, channel_id, username, prompt,
	status, agent, output, success, steps, duration_ms`

// CreateTask creates a new PENDING task.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Status = models.TaskStatusPending

	_, err := db.Exec(ctx, `
		INSERT INTO tasks (id, created_at, channel, channel_id, username, prompt, status, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, t.ID, formatTime(t.CreatedAt), t.Channel, t.ChannelID, nullString(t.Username), t.Prompt, string(t.Status))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// StartTask moves a PENDING task to RUNNING.
func (db *DB) StartTask(ctx context.Context, id string) error {
	result, err := db.Exec(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(models.TaskStatusRunning), formatTime(time.Now()), id, string(models.TaskStatusPending))
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return db.checkTransition(ctx, result, id, "start task")
}

// CompleteTask records the agent's outcome as DONE or FAILED.
func (db *DB) CompleteTask(ctx context.Context, id, output string, success bool, steps int, durationMS int64, agent string) error {
	status := models.TaskStatusFailed
	if success {
		status = models.TaskStatusDone
	}

	result, err := db.Exec(ctx, `
		UPDATE tasks
		SET status = ?, output = ?, success = ?, steps = MAX(steps, ?), duration_ms = ?, agent = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(status), output, success, steps, durationMS, nullString(agent), formatTime(time.Now()),
		id, string(models.TaskStatusPending), string(models.TaskStatusRunning))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return db.checkTransition(ctx, result, id, "complete task")
}

// CancelTask marks a non-terminal task CANCELLED.
func (db *DB) CancelTask(ctx context.Context, id string, steps int, durationMS int64) error {
	result, err := db.Exec(ctx, `
		UPDATE tasks
		SET status = ?, output = ?, success = 0, steps = MAX(steps, ?), duration_ms = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(models.TaskStatusCancelled), CancelledOutput, steps, durationMS, formatTime(time.Now()),
		id, string(models.TaskStatusPending), string(models.TaskStatusRunning))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return db.checkTransition(ctx, result, id, "cancel task")
}

// CancelledOutput is stored as the output of cancelled tasks.
const CancelledOutput = "Task cancelled."

// checkTransition distinguishes a missing task from one in the wrong state when an update touched nothing.
func (db *DB) checkTransition(ctx context.Context, result sql.Result, id, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: get rows affected: %w", op, err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = db.QueryRow(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s from %s: %w", op, id, status, ErrInvalidTransition)
}

// GetTask retrieves a task by ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks lists the newest tasks first, optionally restricted to one scope.
func (db *DB) ListTasks(ctx context.Context, scope models.Scope, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if scope.Channel == "" {
		rows, err = db.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		`, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE channel = ? AND channel_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		`, scope.Channel, scope.ChannelID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var createdAt string
	var updatedAt, username, agent, output sql.NullString
	var success sql.NullBool
	var duration sql.NullInt64

	err := row.Scan(&t.ID, &createdAt, &updatedAt, &t.Channel, &t.ChannelID, &username, &t.Prompt,
		&t.Status, &agent, &output, &success, &t.Steps, &duration)
	if err != nil {
		return nil, err
	}

	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt = parseNullableTime(updatedAt)
	t.Username = username.String
	t.Agent = agent.String
	if output.Valid {
		t.Output = &output.String
	}
	if success.Valid {
		t.Success = &success.Bool
	}
	if duration.Valid {
		t.DurationMS = &duration.Int64
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
