package state

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// MemoryHeader is the first line of a memory digest.
const MemoryHeader = "Context from earlier conversations:"

// DefaultMemoryLimit is used when a non-positive limit is requested.
const DefaultMemoryLimit = 5

// FormatMemories renders records (oldest first) as a prompt digest.
// Returns "" for no records.
func FormatMemories(records []models.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(MemoryHeader)
	for _, m := range records {
		fmt.Fprintf(&b, "\n  [%s] %s", m.Type, m.Content)
	}
	return b.String()
}

// NewTaskID returns a fresh task id.
func NewTaskID() string {
	return uuid.NewString()
}

// newRecordID returns a lexically time-ordered id for memories and attachments.
func newRecordID() string {
	return ulid.Make().String()
}

func memoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultMemoryLimit
	}
	return limit
}

// reverseMemories flips newest-first query results into oldest-first order.
func reverseMemories(records []models.MemoryRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

func prepareMemory(m *models.MemoryRecord) error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("add memory: content is empty")
	}
	if m.Type == "" {
		m.Type = models.MemoryGeneral
	}
	if !models.ValidMemoryTypes[m.Type] {
		return fmt.Errorf("add memory: unknown type %q", m.Type)
	}
	if m.ID == "" {
		m.ID = newRecordID()
	}
	return nil
}
