package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task record exists but no agent has started.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusRunning indicates an agent is executing the task.
	TaskStatusRunning TaskStatus = "RUNNING"
	// TaskStatusDone indicates the agent reported success.
	TaskStatusDone TaskStatus = "DONE"
	// TaskStatusFailed indicates the agent reported failure or crashed.
	TaskStatusFailed TaskStatus = "FAILED"
	// TaskStatusCancelled indicates the task was cancelled while in flight.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for DONE, FAILED and CANCELLED.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Scope identifies a memory/history partition: one conversation on one channel.
type Scope struct {
	// Channel is the transport kind (cli, telegram, nats, ...).
	Channel string `json:"channel" yaml:"channel"`
	// ChannelID is the conversation identifier within the channel.
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

// String returns the scope as "channel:channel_id".
func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Channel, s.ChannelID)
}

// Task is one user request lifecycle unit.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// CreatedAt is when the task record was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// UpdatedAt is when the task record last changed state.
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	// Channel is the transport the request arrived on.
	Channel string `json:"channel" yaml:"channel"`
	// ChannelID is the conversation identifier within the channel.
	ChannelID string `json:"channel_id" yaml:"channel_id"`
	// Username is the display name of the requester, if known.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// Prompt is the raw task text.
	Prompt string `json:"prompt" yaml:"prompt"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status" yaml:"status"`
	// Agent is the name of the agent that ran the task, set at completion.
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`
	// Output is the final text, nil until terminal.
	Output *string `json:"output,omitempty" yaml:"output,omitempty"`
	// Success is the agent's verdict, nil until terminal.
	Success *bool `json:"success,omitempty" yaml:"success,omitempty"`
	// Steps is the number of progress steps recorded.
	Steps int `json:"steps" yaml:"steps"`
	// DurationMS is the wall-clock run time, nil until terminal.
	DurationMS *int64 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// Scope returns the (channel, channel id) pair the task belongs to.
func (t *Task) Scope() Scope {
	return Scope{Channel: t.Channel, ChannelID: t.ChannelID}
}

// StepRecord is one progress unit within a running task.
type StepRecord struct {
	// TaskID is the owning task.
	TaskID string `json:"task_id" yaml:"task_id"`
	// Seq is the 1-based step number, gap-free within a task.
	Seq int `json:"seq" yaml:"seq"`
	// Actions lists the action names taken in this step.
	Actions []string `json:"actions" yaml:"actions"`
	// NextGoal is the agent's stated next goal.
	NextGoal string `json:"next_goal,omitempty" yaml:"next_goal,omitempty"`
	// Evaluation is the agent's evaluation of the previous step.
	Evaluation string `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	// URL is the page the step ran against, if any.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// CreatedAt is when the step was recorded.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Attachment types.
const (
	AttachmentScreenshot = "screenshot"
	AttachmentFile       = "file"
)

// Attachment is a file artifact produced by an agent.
type Attachment struct {
	ID        string    `json:"id" yaml:"id"`
	TaskID    string    `json:"task_id" yaml:"task_id"`
	FileName  string    `json:"file_name" yaml:"file_name"`
	FilePath  string    `json:"file_path" yaml:"file_path"`
	FileType  string    `json:"file_type" yaml:"file_type"`
	MimeType  string    `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	SizeBytes *int64    `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Delivered bool      `json:"delivered" yaml:"delivered"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
