// Package memory assembles the context injected into agent prompts:
// long-term memories from the persistence gateway and short-term per-conversation history.
package memory

import (
	"sync"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Default history bounds.
const (
	DefaultHistoryLimit    = 20
	DefaultHistoryMaxChars = 1000
)

// History keeps a bounded, in-process list of turns per scope.
// Appends within one scope are serialized; different scopes do not contend.
type History struct {
	limit    int
	maxChars int

	mu     sync.Mutex
	scopes map[models.Scope]*scopeHistory
}

type scopeHistory struct {
	mu    sync.Mutex
	turns []models.Turn
}

// NewHistory creates a History keeping at most limit turns per scope and
// truncating assistant turns to maxChars. Non-positive values select the defaults.
func NewHistory(limit, maxChars int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if maxChars <= 0 {
		maxChars = DefaultHistoryMaxChars
	}
	return &History{
		limit:    limit,
		maxChars: maxChars,
		scopes:   make(map[models.Scope]*scopeHistory),
	}
}

func (h *History) scope(s models.Scope, create bool) *scopeHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.scopes[s]
	if !ok && create {
		sh = &scopeHistory{}
		h.scopes[s] = sh
	}
	return sh
}

// Append adds turns to a scope in order, evicting the oldest beyond the limit.
func (h *History) Append(s models.Scope, turns ...models.Turn) {
	sh := h.scope(s, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, t := range turns {
		if t.Role == models.RoleAssistant {
			t.Content = truncate(t.Content, h.maxChars)
		}
		sh.turns = append(sh.turns, t)
	}
	if over := len(sh.turns) - h.limit; over > 0 {
		sh.turns = append([]models.Turn(nil), sh.turns[over:]...)
	}
}

// AppendExchange records a user task and the assistant's reply as one unit.
func (h *History) AppendExchange(s models.Scope, task, reply string) {
	h.Append(s,
		models.Turn{Role: models.RoleUser, Content: task},
		models.Turn{Role: models.RoleAssistant, Content: reply},
	)
}

// Get returns a copy of the scope's turns, oldest first.
func (h *History) Get(s models.Scope) []models.Turn {
	sh := h.scope(s, false)
	if sh == nil {
		return nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]models.Turn, len(sh.turns))
	copy(out, sh.turns)
	return out
}

// Clear drops the scope's history and returns how many turns were removed.
func (h *History) Clear(s models.Scope) int {
	h.mu.Lock()
	sh, ok := h.scopes[s]
	delete(h.scopes, s)
	h.mu.Unlock()
	if !ok {
		return 0
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n := len(sh.turns)
	sh.turns = nil
	return n
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Truncate cuts s to at most n runes. n <= 0 returns s unchanged.
func Truncate(s string, n int) string {
	return truncate(s, n)
}
