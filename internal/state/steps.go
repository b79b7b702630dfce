package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// LogStep records one progress step and bumps the task's step count while it is RUNNING.
func (db *DB) LogStep(ctx context.Context, s *models.StepRecord) error {
	if s.Seq < 1 {
		return fmt.Errorf("log step: sequence must be >= 1, got %d", s.Seq)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	actions := s.Actions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_steps (task_id, seq, actions, next_goal, evaluation, url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, s.TaskID, s.Seq, string(actionsJSON), nullString(s.NextGoal), nullString(s.Evaluation),
			nullString(s.URL), formatTime(s.CreatedAt))
		if err != nil {
			return fmt.Errorf("log step: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET steps = MAX(steps, ?), updated_at = ?
			WHERE id = ? AND status = ?
		`, s.Seq, formatTime(time.Now()), s.TaskID, string(models.TaskStatusRunning))
		if err != nil {
			return fmt.Errorf("update step count: %w", err)
		}
		return nil
	})
}

// ListSteps returns all steps for a task ordered by sequence.
func (db *DB) ListSteps(ctx context.Context, taskID string) ([]models.StepRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT task_id, seq, actions, next_goal, evaluation, url, created_at
		FROM task_steps WHERE task_id = ? ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []models.StepRecord
	for rows.Next() {
		var s models.StepRecord
		var actionsJSON, createdAt string
		var nextGoal, evaluation, url sql.NullString
		if err := rows.Scan(&s.TaskID, &s.Seq, &actionsJSON, &nextGoal, &evaluation, &url, &createdAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &s.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		s.NextGoal = nextGoal.String
		s.Evaluation = evaluation.String
		s.URL = url.String
		s.CreatedAt, _ = parseTime(createdAt)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
