package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// EventType represents the type of lifecycle event.
type EventType string

const (
	// EventTaskCreated indicates a task record was created (PENDING).
	EventTaskCreated EventType = "task_created"
	// EventTaskRouted indicates the router picked an agent.
	EventTaskRouted EventType = "task_routed"
	// EventTaskStarted indicates the agent started (RUNNING).
	EventTaskStarted EventType = "task_started"
	// EventTaskStep indicates the agent reported a numbered step.
	EventTaskStep EventType = "task_step"
	// EventTaskCompleted indicates the task finished DONE.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates the task finished FAILED.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates the task finished CANCELLED.
	EventTaskCancelled EventType = "task_cancelled"
)

// Event is a task lifecycle notification for external observers.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    string            `json:"task_id"`
	Scope     models.Scope      `json:"scope"`
	Agent     string            `json:"agent,omitempty"`
	Status    models.TaskStatus `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Step      *agent.StepEvent  `json:"step,omitempty"`
	Steps     int               `json:"steps,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// terminalEvent maps a final status to its event type.
func terminalEvent(status models.TaskStatus) EventType {
	switch status {
	case models.TaskStatusDone:
		return EventTaskCompleted
	case models.TaskStatusCancelled:
		return EventTaskCancelled
	default:
		return EventTaskFailed
	}
}

// EventPublisher delivers lifecycle events. Publishing is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
