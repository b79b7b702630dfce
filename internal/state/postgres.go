package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// PGStore implements Gateway backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at url.
func OpenPostgres(ctx context.Context, url string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPGStore(pool), nil
}

// NewPGStore wraps an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Close releases the pool.
func (s *PGStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate is EnsureSchema, named for the Migrator interface.
func (s *PGStore) Migrate(ctx context.Context) error {
	return s.EnsureSchema(ctx)
}

// EnsureSchema creates the tables if they don't exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ,
    channel     TEXT NOT NULL,
    channel_id  TEXT NOT NULL,
    username    TEXT NOT NULL DEFAULT '',
    prompt      TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'PENDING',
    agent       TEXT NOT NULL DEFAULT '',
    output      TEXT,
    success     BOOLEAN,
    steps       INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_scope ON tasks (channel, channel_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,

		`CREATE TABLE IF NOT EXISTS task_steps (
    task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    actions    TEXT[] NOT NULL DEFAULT '{}',
    next_goal  TEXT NOT NULL DEFAULT '',
    evaluation TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (task_id, seq)
)`,

		`CREATE TABLE IF NOT EXISTS attachments (
    id         TEXT PRIMARY KEY,
    task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    file_name  TEXT NOT NULL,
    file_path  TEXT NOT NULL,
    file_type  TEXT NOT NULL,
    mime_type  TEXT NOT NULL DEFAULT '',
    size_bytes BIGINT,
    delivered  BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_task_id ON attachments (task_id)`,

		`CREATE TABLE IF NOT EXISTS memories (
    id          TEXT PRIMARY KEY,
    channel     TEXT NOT NULL,
    channel_id  TEXT NOT NULL,
    username    TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    memory_type TEXT NOT NULL DEFAULT 'general',
    source      TEXT NOT NULL DEFAULT '',
    task_id     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories (channel, channel_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateTask inserts a PENDING task.
func (s *PGStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Status = models.TaskStatusPending

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, created_at, channel, channel_id, username, prompt, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.CreatedAt, t.Channel, t.ChannelID, t.Username, t.Prompt, string(t.Status))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// StartTask moves a PENDING task to RUNNING.
func (s *PGStore) StartTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, string(models.TaskStatusRunning), id, string(models.TaskStatusPending))
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	return s.checkTransition(ctx, tag, id, "start task")
}

// CompleteTask records the agent's outcome as DONE or FAILED.
func (s *PGStore) CompleteTask(ctx context.Context, id, output string, success bool, steps int, durationMS int64, agent string) error {
	status := models.TaskStatusFailed
	if success {
		status = models.TaskStatusDone
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, output = $2, success = $3, steps = GREATEST(steps, $4), duration_ms = $5, agent = $6, updated_at = now()
		WHERE id = $7 AND status IN ($8, $9)
	`, string(status), output, success, steps, durationMS, agent,
		id, string(models.TaskStatusPending), string(models.TaskStatusRunning))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return s.checkTransition(ctx, tag, id, "complete task")
}

// CancelTask marks a non-terminal task CANCELLED.
func (s *PGStore) CancelTask(ctx context.Context, id string, steps int, durationMS int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, output = $2, success = false, steps = GREATEST(steps, $3), duration_ms = $4, updated_at = now()
		WHERE id = $5 AND status IN ($6, $7)
	`, string(models.TaskStatusCancelled), CancelledOutput, steps, durationMS,
		id, string(models.TaskStatusPending), string(models.TaskStatusRunning))
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return s.checkTransition(ctx, tag, id, "cancel task")
}

func (s *PGStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, id, op string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s from %s: %w", op, id, status, ErrInvalidTransition)
}

const pgTaskColumns = `id, created_at, updated_at, channel, channel_id, username, prompt,
	status, agent, output, success, steps, duration_ms`

func scanPGTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var status string
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Channel, &t.ChannelID, &t.Username, &t.Prompt,
		&status, &t.Agent, &t.Output, &t.Success, &t.Steps, &t.DurationMS)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	return &t, nil
}

// GetTask retrieves a task by ID.
func (s *PGStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanPGTask(s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks lists the newest tasks first, optionally restricted to one scope.
func (s *PGStore) ListTasks(ctx context.Context, scope models.Scope, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if scope.Channel == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+pgTaskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+pgTaskColumns+` FROM tasks
			WHERE channel = $1 AND channel_id = $2
			ORDER BY created_at DESC LIMIT $3
		`, scope.Channel, scope.ChannelID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanPGTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// PurgeOldTasks deletes tasks created before now-olderThan.
func (s *PGStore) PurgeOldTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE created_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LogStep records one progress step and bumps the task's step count while it is RUNNING.
func (s *PGStore) LogStep(ctx context.Context, st *models.StepRecord) error {
	if st.Seq < 1 {
		return fmt.Errorf("log step: sequence must be >= 1, got %d", st.Seq)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	actions := st.Actions
	if actions == nil {
		actions = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO task_steps (task_id, seq, actions, next_goal, evaluation, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, st.TaskID, st.Seq, actions, st.NextGoal, st.Evaluation, st.URL, st.CreatedAt); err != nil {
		return fmt.Errorf("log step: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET steps = GREATEST(steps, $1), updated_at = now()
		WHERE id = $2 AND status = $3
	`, st.Seq, st.TaskID, string(models.TaskStatusRunning)); err != nil {
		return fmt.Errorf("update step count: %w", err)
	}
	return tx.Commit(ctx)
}

// ListSteps returns all steps for a task ordered by sequence.
func (s *PGStore) ListSteps(ctx context.Context, taskID string) ([]models.StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, seq, actions, next_goal, evaluation, url, created_at
		FROM task_steps WHERE task_id = $1 ORDER BY seq
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []models.StepRecord
	for rows.Next() {
		var st models.StepRecord
		if err := rows.Scan(&st.TaskID, &st.Seq, &st.Actions, &st.NextGoal, &st.Evaluation, &st.URL, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// SaveAttachment records a file produced by a task.
func (s *PGStore) SaveAttachment(ctx context.Context, a *models.Attachment) error {
	if a.ID == "" {
		a.ID = newRecordID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (id, task_id, file_name, file_path, file_type, mime_type, size_bytes, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.TaskID, a.FileName, a.FilePath, a.FileType, a.MimeType, a.SizeBytes, a.Delivered, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	return nil
}

// MarkAttachmentDelivered flags an attachment as sent to the user.
func (s *PGStore) MarkAttachmentDelivered(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE attachments SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark attachment delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark attachment %s delivered: %w", id, ErrNotFound)
	}
	return nil
}

// ListAttachments returns a task's attachments in creation order.
func (s *PGStore) ListAttachments(ctx context.Context, taskID string) ([]models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, file_name, file_path, file_type, mime_type, size_bytes, delivered, created_at
		FROM attachments WHERE task_id = $1 ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &a.FilePath, &a.FileType, &a.MimeType,
			&a.SizeBytes, &a.Delivered, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddMemory stores a memory record for its scope.
func (s *PGStore) AddMemory(ctx context.Context, m *models.MemoryRecord) error {
	if err := prepareMemory(m); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memories (id, channel, channel_id, username, content, memory_type, source, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.Scope.Channel, m.Scope.ChannelID, m.Username, m.Content, m.Type, m.Source, m.TaskID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// GetMemoryContext returns up to limit of the most recent memories, oldest first.
func (s *PGStore) GetMemoryContext(ctx context.Context, scope models.Scope, limit int) ([]models.MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel, channel_id, username, content, memory_type, source, task_id, created_at
		FROM memories
		WHERE channel = $1 AND channel_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, scope.Channel, scope.ChannelID, memoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("get memory context: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryRecord
	for rows.Next() {
		var m models.MemoryRecord
		if err := rows.Scan(&m.ID, &m.Scope.Channel, &m.Scope.ChannelID, &m.Username, &m.Content, &m.Type,
			&m.Source, &m.TaskID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	reverseMemories(out)
	return out, nil
}

// FormatMemoryForPrompt renders the scope's recent memories as a prompt digest.
func (s *PGStore) FormatMemoryForPrompt(ctx context.Context, scope models.Scope, limit int) (string, error) {
	records, err := s.GetMemoryContext(ctx, scope, limit)
	if err != nil {
		return "", err
	}
	return FormatMemories(records), nil
}

// DeleteMemory removes every memory for scope.
func (s *PGStore) DeleteMemory(ctx context.Context, scope models.Scope) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE channel = $1 AND channel_id = $2`,
		scope.Channel, scope.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("delete memory: %w", err)
	}
	return tag.RowsAffected(), nil
}
