// Package state provides task, step, attachment and memory persistence for mybrowse.
package state

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a task status update is not allowed from the stored status.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TaskStore handles task lifecycle persistence.
type TaskStore interface {
	// CreateTask inserts a PENDING task. An empty ID is filled in.
	CreateTask(ctx context.Context, t *models.Task) error
	// StartTask moves a PENDING task to RUNNING.
	StartTask(ctx context.Context, id string) error
	// CompleteTask moves a non-terminal task to DONE or FAILED and records its outcome.
	CompleteTask(ctx context.Context, id, output string, success bool, steps int, durationMS int64, agent string) error
	// CancelTask moves a non-terminal task to CANCELLED.
	CancelTask(ctx context.Context, id string, steps int, durationMS int64) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ListTasks returns the newest tasks first. A zero scope lists every scope.
	ListTasks(ctx context.Context, scope models.Scope, limit int) ([]models.Task, error)
	// PurgeOldTasks deletes tasks created before now-olderThan together with their steps and attachments.
	PurgeOldTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// StepStore handles step persistence.
type StepStore interface {
	LogStep(ctx context.Context, s *models.StepRecord) error
	// ListSteps returns steps ordered by sequence number.
	ListSteps(ctx context.Context, taskID string) ([]models.StepRecord, error)
}

// AttachmentStore handles attachment persistence.
type AttachmentStore interface {
	// SaveAttachment inserts an attachment. An empty ID is filled in.
	SaveAttachment(ctx context.Context, a *models.Attachment) error
	MarkAttachmentDelivered(ctx context.Context, id string) error
	ListAttachments(ctx context.Context, taskID string) ([]models.Attachment, error)
}

// MemoryStore handles long-term memory persistence.
type MemoryStore interface {
	// AddMemory inserts a memory record. An empty ID is filled in.
	AddMemory(ctx context.Context, m *models.MemoryRecord) error
	// GetMemoryContext returns the limit most recent memories for scope, oldest first.
	GetMemoryContext(ctx context.Context, scope models.Scope, limit int) ([]models.MemoryRecord, error)
	// FormatMemoryForPrompt renders GetMemoryContext as a prompt digest, empty when there are none.
	FormatMemoryForPrompt(ctx context.Context, scope models.Scope, limit int) (string, error)
	// DeleteMemory removes every memory in scope and returns how many were removed.
	DeleteMemory(ctx context.Context, scope models.Scope) (int64, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate(ctx context.Context) error
}

// Gateway is the full persistence surface the supervisor and adapters depend on.
// It composes focused sub-interfaces so callers can depend on only what they use.
type Gateway interface {
	io.Closer
	Migrator
	TaskStore
	StepStore
	AttachmentStore
	MemoryStore
}

// Compile-time verification that both backends implement all interfaces.
var (
	_ Gateway = (*DB)(nil)
	_ Gateway = (*PGStore)(nil)
)
