package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// validTransitions defines the allowed task status transitions.
// Terminal states accept nothing.
var validTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending: {models.TaskStatusRunning, models.TaskStatusCancelled, models.TaskStatusFailed},
	models.TaskStatusRunning: {models.TaskStatusDone, models.TaskStatusFailed, models.TaskStatusCancelled},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to models.TaskStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// taskRun is the in-memory, authoritative state of one supervised task.
type taskRun struct {
	id        string
	scope     models.Scope
	username  string
	prompt    string
	ephemeral bool
	started   time.Time
	cancel    context.CancelFunc
	// routeReason is set once, before the agent starts.
	routeReason string

	mu              sync.Mutex
	status          models.TaskStatus
	agent           string
	seq             int
	cancelRequested bool
}

func newTaskRun(id string, in Input, ephemeral bool, started time.Time, cancel context.CancelFunc) *taskRun {
	return &taskRun{
		id:        id,
		scope:     models.Scope{Channel: in.Channel, ChannelID: in.ChannelID},
		username:  in.Username,
		prompt:    in.Task,
		ephemeral: ephemeral,
		started:   started,
		cancel:    cancel,
		status:    models.TaskStatusPending,
	}
}

// transition moves the run to status to if allowed and reports whether it did.
func (r *taskRun) transition(to models.TaskStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

func (r *taskRun) transitionLocked(to models.TaskStatus) bool {
	if !CanTransition(r.status, to) {
		return false
	}
	r.status = to
	return true
}

// start moves PENDING to RUNNING unless a cancel has already been requested.
func (r *taskRun) start(agentName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRequested {
		return false
	}
	r.agent = agentName
	return r.transitionLocked(models.TaskStatusRunning)
}

// finish moves the run to its terminal status. A cancel that was requested
// before finish wins over the agent's outcome. It returns the final status, and
// false when the run was already terminal.
func (r *taskRun) finish(success bool) (models.TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := models.TaskStatusFailed
	switch {
	case r.cancelRequested:
		to = models.TaskStatusCancelled
	case success:
		to = models.TaskStatusDone
	}
	if !r.transitionLocked(to) {
		return r.status, false
	}
	return to, true
}

// requestCancel records a cancel and fires the task context. It returns the
// status observed and whether the cancel took effect.
func (r *taskRun) requestCancel() (models.TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return r.status, false
	}
	r.cancelRequested = true
	r.cancel()
	return r.status, true
}

// markCancelled flags the run as cancelled without firing the context, used
// when the caller's own context ended.
func (r *taskRun) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Terminal() {
		r.cancelRequested = true
	}
}

// nextSeq returns the next gap-free step number, or 0 once the run is terminal.
func (r *taskRun) nextSeq() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return 0
	}
	r.seq++
	return r.seq
}

func (r *taskRun) snapshot() ActiveTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ActiveTask{
		TaskID:    r.id,
		Scope:     r.scope,
		Username:  r.username,
		Prompt:    r.prompt,
		Agent:     r.agent,
		Status:    r.status,
		Steps:     r.seq,
		StartedAt: r.started,
	}
}

func (r *taskRun) steps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *taskRun) currentStatus() models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
