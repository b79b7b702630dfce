package memory

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// MemorySource is the slice of the persistence gateway the assembler reads.
type MemorySource interface {
	FormatMemoryForPrompt(ctx context.Context, scope models.Scope, limit int) (string, error)
}

// Context is what gets injected into an agent request.
type Context struct {
	// Digest is the formatted long-term memory block, empty when there is none.
	Digest string
	// History is the scope's recent turns, oldest first.
	History []models.Turn
}

// Assembler combines long-term memories and conversation history.
type Assembler struct {
	source  MemorySource
	history *History
	limit   int
	logger  *logging.Logger
}

// NewAssembler creates an Assembler. limit is the default number of memories to include.
func NewAssembler(source MemorySource, history *History, limit int, logger *logging.Logger) *Assembler {
	if history == nil {
		history = NewHistory(0, 0)
	}
	return &Assembler{
		source:  source,
		history: history,
		limit:   limit,
		logger:  logger.With("component", "memory"),
	}
}

// History returns the underlying history store.
func (a *Assembler) History() *History {
	return a.history
}

// Assemble returns up to limit memories and the scope's history. A non-positive limit
// uses the assembler's default. It never fails: a storage error or panic degrades to an
// empty digest.
func (a *Assembler) Assemble(ctx context.Context, scope models.Scope, limit int) Context {
	if limit <= 0 {
		limit = a.limit
	}
	out := Context{History: a.history.Get(scope)}
	if a.source == nil {
		return out
	}

	digest, err := a.lookup(ctx, scope, limit)
	if err != nil {
		a.logger.Warn("memory lookup failed, continuing without memories", "scope", scope.String(), "error", err)
		return out
	}
	out.Digest = digest
	return out
}

// lookup reads the digest, turning a panicking source into an error.
func (a *Assembler) lookup(ctx context.Context, scope models.Scope, limit int) (digest string, err error) {
	defer func() {
		if r := recover(); r != nil {
			digest, err = "", fmt.Errorf("memory source panic: %v", r)
		}
	}()
	return a.source.FormatMemoryForPrompt(ctx, scope, limit)
}
