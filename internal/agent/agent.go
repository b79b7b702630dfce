// Package agent defines the agent capability, the name-keyed registry, the
// router that picks an agent for a task, and the stock agents (chat, memory, browser).
package agent

import (
	"context"
	"strings"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Stock agent names.
const (
	NameChat    = "chat"
	NameMemory  = "memory"
	NameBrowser = "browser"
)

// Agent is a specialized executor for one kind of task.
type Agent interface {
	// Name is the unique lowercase registry key.
	Name() string
	// Description is shown to the router when choosing an agent.
	Description() string
	// Execute runs the task. It must return promptly once ctx is cancelled.
	Execute(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error)
}

// ResourceIntensive is implemented by agents that need the shared execution slot.
type ResourceIntensive interface {
	Exclusive() bool
}

// IsExclusive reports whether a must run under the execution slot.
func IsExclusive(a Agent) bool {
	ri, ok := a.(ResourceIntensive)
	return ok && ri.Exclusive()
}

// Request is everything an agent needs to run one task.
type Request struct {
	TaskID   string
	Task     string
	Scope    models.Scope
	Username string
	// MemoryDigest is the formatted long-term memory, possibly empty.
	MemoryDigest string
	// History is the recent conversation for the scope, oldest first.
	History []models.Turn
}

// Result is an agent's outcome before the supervisor wraps it.
type Result struct {
	Success bool
	Output  string
	// Attachments are file paths produced by the agent.
	Attachments []string
	Errors      []string
	Agent       string
	// Steps is the agent's own step count.
	Steps int
}

// StepEvent is one progress report from a running agent.
// An event carrying only Message is a notice: it is forwarded but not persisted.
type StepEvent struct {
	Seq        int      `json:"seq"`
	Actions    []string `json:"actions,omitempty"`
	NextGoal   string   `json:"next_goal,omitempty"`
	Evaluation string   `json:"evaluation,omitempty"`
	URL        string   `json:"url,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// IsNotice reports whether the event is a free-text notice rather than a navigation step.
func (e StepEvent) IsNotice() bool {
	return len(e.Actions) == 0 && e.NextGoal == "" && e.Evaluation == "" && e.URL == ""
}

// ProgressFunc receives step events. Implementations must not block for long.
type ProgressFunc func(StepEvent)

// emit calls fn when it is set.
func (fn ProgressFunc) emit(e StepEvent) {
	if fn != nil {
		fn(e)
	}
}

// failure builds a failed result with a single error.
func failure(name, msg string) *Result {
	return &Result{Agent: name, Output: msg, Errors: []string{msg}}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// containsAny reports whether s contains any of the keywords.
func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
