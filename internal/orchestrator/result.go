package orchestrator

import (
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Input is one task submission from a channel adapter.
type Input struct {
	Task      string
	Channel   string
	ChannelID string
	Username  string
	// Progress receives status messages and step events. May be nil.
	Progress ProgressSink
}

// Result is the uniform outcome of a supervised task, whichever agent ran.
type Result struct {
	TaskID string
	// Ephemeral is set when the task record could not be persisted.
	Ephemeral bool
	Status    models.TaskStatus
	Success   bool
	Output    string
	Agent     string
	// RouteReason is the router's explanation, or the fallback cause.
	RouteReason string
	Steps       int
	// Attachments carry IDs when they were persisted.
	Attachments []models.Attachment
	Errors      []string
	Duration    time.Duration
}

// Cancelled reports whether the task ended by cancellation.
func (r *Result) Cancelled() bool {
	return r.Status == models.TaskStatusCancelled
}

// Format renders the result as plain text for text-only channels.
func (r *Result) Format() string {
	status := "Done"
	switch {
	case r.Status == models.TaskStatusCancelled:
		status = "Cancelled"
	case !r.Success:
		status = "Failed"
	}

	var b strings.Builder
	b.WriteString("Status: " + status + "\n")
	b.WriteString("Agent: " + r.Agent + "\n")
	b.WriteString("Steps: " + strconv.Itoa(r.Steps) + "\n")
	b.WriteString("\nResult:\n")
	b.WriteString(r.Output)

	var errs []string
	for _, e := range r.Errors {
		if strings.TrimSpace(e) != "" {
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		b.WriteString("\n\nErrors:")
		for _, e := range errs {
			b.WriteString("\n- " + e)
		}
	}
	return b.String()
}

// CancelAck answers a cancel request.
type CancelAck struct {
	TaskID string
	// Found is false for ids the supervisor is not running.
	Found bool
	// Status is the status observed when the request arrived.
	Status models.TaskStatus
	// Cancelled is true when the request will take effect.
	Cancelled bool
}

// ActiveTask describes a task currently owned by the supervisor.
type ActiveTask struct {
	TaskID    string
	Scope     models.Scope
	Username  string
	Prompt    string
	Agent     string
	Status    models.TaskStatus
	Steps     int
	StartedAt time.Time
}

// ProgressKind distinguishes progress updates.
type ProgressKind string

const (
	// ProgressStatus is a supervisor status line ("Analysing task...").
	ProgressStatus ProgressKind = "status"
	// ProgressNotice is a free-text message from the agent.
	ProgressNotice ProgressKind = "notice"
	// ProgressStep is a numbered navigation step.
	ProgressStep ProgressKind = "step"
)

// Progress is one update delivered to a ProgressSink.
type Progress struct {
	TaskID  string
	Kind    ProgressKind
	Message string
	// Step is set for ProgressStep, with Seq assigned by the supervisor.
	Step agent.StepEvent
}

// ProgressSink receives live progress for one task.
type ProgressSink interface {
	OnProgress(p Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Progress)

// OnProgress implements ProgressSink.
func (f ProgressFunc) OnProgress(p Progress) { f(p) }
