package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/mybrowse/internal/logging"
)

// EventEmitter is an in-process EventPublisher backed by a buffered channel.
// Subscribers read Events(); when the buffer is full an event waits briefly and is then dropped.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *logging.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Publish implements EventPublisher.
func (e *EventEmitter) Publish(_ context.Context, ev Event) error {
	e.Emit(ev)
	return nil
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	// Give the receiver a chance to drain
	select {
	case e.events <- ev:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			e.logger.Warn("event channel full, dropped event", "dropped_total", count, "type", ev.Type, "task_id", ev.TaskID)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Later Emits are ignored.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

// multiPublisher fans one event out to several publishers.
type multiPublisher []EventPublisher

func (m multiPublisher) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ EventPublisher = (*EventEmitter)(nil)
	_ EventPublisher = multiPublisher(nil)
)
