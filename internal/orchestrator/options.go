package orchestrator

import (
	"time"

	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/memory"
	"github.com/ShayCichocki/mybrowse/internal/slot"
)

// Defaults applied when an option is not given.
const (
	DefaultAbortGrace       = 30 * time.Second
	DefaultAutosaveMinChars = 20
	DefaultAutosaveMaxChars = 400
	DefaultMemoryLimit      = 5
)

// Option configures a Supervisor. Use With* functions to create Options.
type Option func(*supervisorOptions)

// supervisorOptions holds all optional configuration.
type supervisorOptions struct {
	logger           *logging.Logger
	publishers       []EventPublisher
	abortGrace       time.Duration
	autosaveMinChars int
	autosaveMaxChars int
	memoryLimit      int
	history          *memory.History
	slot             *slot.Slot
	now              func() time.Time
}

func defaultOptions() supervisorOptions {
	return supervisorOptions{
		abortGrace:       DefaultAbortGrace,
		autosaveMinChars: DefaultAutosaveMinChars,
		autosaveMaxChars: DefaultAutosaveMaxChars,
		memoryLimit:      DefaultMemoryLimit,
		now:              time.Now,
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *supervisorOptions) { o.logger = l }
}

// WithEvents adds a lifecycle event publisher. May be given more than once.
func WithEvents(p EventPublisher) Option {
	return func(o *supervisorOptions) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// WithAbortGrace bounds how long a cancelled task waits for its agent to return.
func WithAbortGrace(d time.Duration) Option {
	return func(o *supervisorOptions) {
		if d > 0 {
			o.abortGrace = d
		}
	}
}

// WithAutosave sets the auto-saved memory thresholds: outputs longer than minChars
// are saved, truncated to maxChars. A negative minChars disables auto-save.
func WithAutosave(minChars, maxChars int) Option {
	return func(o *supervisorOptions) {
		o.autosaveMinChars = minChars
		if maxChars > 0 {
			o.autosaveMaxChars = maxChars
		}
	}
}

// WithMemoryLimit sets how many memories are injected into each request.
func WithMemoryLimit(n int) Option {
	return func(o *supervisorOptions) {
		if n > 0 {
			o.memoryLimit = n
		}
	}
}

// WithHistory sets the conversation history store.
func WithHistory(h *memory.History) Option {
	return func(o *supervisorOptions) { o.history = h }
}

// WithSlot sets the execution slot (mainly for testing).
func WithSlot(s *slot.Slot) Option {
	return func(o *supervisorOptions) { o.slot = s }
}

// WithClock overrides the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *supervisorOptions) {
		if now != nil {
			o.now = now
		}
	}
}
