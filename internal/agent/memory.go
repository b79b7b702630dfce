package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

const memoryDescription = "Memory management agent. Use for: saving important facts or preferences " +
	`("remember that...", "save this"), recalling past information ("what do you know about me?", ` +
	`"what did we discuss?"), listing stored memories, or deleting memories.`

// MemoryListLimit is how many memories the list command shows.
const MemoryListLimit = 10

// SourceUserExplicit marks memories the user asked to save.
const SourceUserExplicit = "user_explicit"

var (
	deleteKeywords = []string{"hapus", "forget", "delete", "clear", "lupa", "bersihkan"}
	listKeywords   = []string{"list", "tampilkan", "show", "ingat apa", "tau apa", "apa yang"}
	// Longer prefixes first so "remember that" wins over "remember".
	savePrefixes = []string{
		"ingat bahwa ", "ingat ",
		"remember that ", "remember ",
		"simpan ", "save ",
		"catat ", "note ",
	}
)

// MemoryStore is the persistence the memory agent needs.
type MemoryStore interface {
	AddMemory(ctx context.Context, m *models.MemoryRecord) error
	GetMemoryContext(ctx context.Context, scope models.Scope, limit int) ([]models.MemoryRecord, error)
	DeleteMemory(ctx context.Context, scope models.Scope) (int64, error)
}

// MemoryAgent saves, lists and deletes long-term memories for the task's scope.
type MemoryAgent struct {
	store MemoryStore
}

// NewMemoryAgent creates the memory agent.
func NewMemoryAgent(store MemoryStore) *MemoryAgent {
	return &MemoryAgent{store: store}
}

// Name implements Agent.
func (a *MemoryAgent) Name() string { return NameMemory }

// Description implements Agent.
func (a *MemoryAgent) Description() string { return memoryDescription }

// Execute implements Agent.
func (a *MemoryAgent) Execute(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	task := strings.TrimSpace(req.Task)
	lower := strings.ToLower(task)

	switch {
	case containsAny(lower, deleteKeywords):
		return a.deleteAll(ctx, req.Scope)
	case containsAny(lower, listKeywords):
		return a.list(ctx, req.Scope)
	default:
		return a.save(ctx, req, task)
	}
}

func (a *MemoryAgent) deleteAll(ctx context.Context, scope models.Scope) (*Result, error) {
	n, err := a.store.DeleteMemory(ctx, scope)
	if err != nil {
		return failure(NameMemory, fmt.Sprintf("delete memories: %v", err)), nil
	}
	return &Result{Success: true, Output: fmt.Sprintf("%d memories deleted.", n), Agent: NameMemory, Steps: 1}, nil
}

func (a *MemoryAgent) list(ctx context.Context, scope models.Scope) (*Result, error) {
	records, err := a.store.GetMemoryContext(ctx, scope, MemoryListLimit)
	if err != nil {
		return failure(NameMemory, fmt.Sprintf("list memories: %v", err)), nil
	}
	if len(records) == 0 {
		return &Result{Success: true, Output: "No memories stored yet.", Agent: NameMemory, Steps: 1}, nil
	}

	lines := []string{"Stored memories:"}
	for _, m := range records {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", m.Type, m.CreatedAt.Local().Format("02/01 15:04"), truncate(m.Content, 150)))
	}
	return &Result{Success: true, Output: strings.Join(lines, "\n"), Agent: NameMemory, Steps: 1}, nil
}

func (a *MemoryAgent) save(ctx context.Context, req *Request, task string) (*Result, error) {
	content := stripSavePrefix(task)
	if content == "" {
		return failure(NameMemory, "Nothing to save."), nil
	}

	m := &models.MemoryRecord{
		Scope:    req.Scope,
		Username: req.Username,
		Content:  content,
		Type:     models.MemoryUserNote,
		Source:   SourceUserExplicit,
		TaskID:   req.TaskID,
	}
	if err := a.store.AddMemory(ctx, m); err != nil {
		return failure(NameMemory, fmt.Sprintf("save memory: %v", err)), nil
	}
	return &Result{Success: true, Output: fmt.Sprintf("Saved: \"%s\"", truncate(content, 100)), Agent: NameMemory, Steps: 1}, nil
}

// stripSavePrefix removes one leading save command word, case-insensitively.
func stripSavePrefix(task string) string {
	for _, p := range savePrefixes {
		if strings.EqualFold(task, strings.TrimSpace(p)) {
			return ""
		}
		if len(task) >= len(p) && strings.EqualFold(task[:len(p)], p) {
			return strings.TrimSpace(task[len(p):])
		}
	}
	return strings.TrimSpace(task)
}
