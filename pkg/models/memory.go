package models

import "time"

// Memory types.
const (
	// MemoryTaskResult is an automatically saved summary of a successful task.
	MemoryTaskResult = "task_result"
	// MemoryUserNote is a fact the user explicitly asked to remember.
	MemoryUserNote = "user_note"
	// MemoryGeneral is anything else.
	MemoryGeneral = "general"
)

// ValidMemoryTypes are the allowed memory type tags.
var ValidMemoryTypes = map[string]bool{
	MemoryTaskResult: true,
	MemoryUserNote:   true,
	MemoryGeneral:    true,
}

// MemoryRecord is a durable fact scoped to one conversation.
// Records are never updated in place.
type MemoryRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Scope     Scope     `json:"scope" yaml:"scope"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	Content   string    `json:"content" yaml:"content"`
	Type      string    `json:"type" yaml:"type"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	TaskID    string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of in-process conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
