// Package events publishes task lifecycle events and carries cancel requests over NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// DefaultSubjectPrefix is the root of every subject the bus uses.
const DefaultSubjectPrefix = "mybrowse"

// Subject suffixes under the prefix.
const (
	SubjectEvents = "events"
	SubjectCancel = "cancel"
	SubjectSubmit = "submit"
)

// ErrClosed is returned when the bus has been closed.
var ErrClosed = errors.New("event bus closed")

// Option configures a Bus.
type Option func(*busOptions)

type busOptions struct {
	prefix string
	name   string
	logger *logging.Logger
}

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(p string) Option {
	return func(o *busOptions) {
		if p = strings.Trim(p, ". "); p != "" {
			o.prefix = p
		}
	}
}

// WithName sets the NATS connection name.
func WithName(name string) Option {
	return func(o *busOptions) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *busOptions) { o.logger = l }
}

// Bus is a NATS-backed orchestrator.EventPublisher.
type Bus struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	owned  bool
}

// Connect dials a NATS server and returns a Bus that owns the connection.
func Connect(url string, opts ...Option) (*Bus, error) {
	o := applyOptions(opts)
	nc, err := nats.Connect(url,
		nats.Name(o.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			o.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	b := newBus(nc, o)
	b.owned = true
	return b, nil
}

// NewBus wraps an existing connection. Close does not close nc.
func NewBus(nc *nats.Conn, opts ...Option) *Bus {
	return newBus(nc, applyOptions(opts))
}

func applyOptions(opts []Option) busOptions {
	o := busOptions{prefix: DefaultSubjectPrefix, name: "mybrowse"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newBus(nc *nats.Conn, o busOptions) *Bus {
	return &Bus{nc: nc, prefix: o.prefix, logger: o.logger.With("component", "events")}
}

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Subject joins parts under the bus prefix.
func (b *Bus) Subject(parts ...string) string {
	return Subject(b.prefix, parts...)
}

// Subject joins parts under prefix with dots.
func Subject(prefix string, parts ...string) string {
	all := append([]string{prefix}, parts...)
	return strings.Join(all, ".")
}

// EventSubject returns the subject an event is published on.
func (b *Bus) EventSubject(t orchestrator.EventType) string {
	return b.Subject(SubjectEvents, string(t))
}

// Publish implements orchestrator.EventPublisher.
func (b *Bus) Publish(_ context.Context, ev orchestrator.Event) error {
	if b.nc == nil || b.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.nc.Publish(b.EventSubject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// CancelRequest asks the serving process to cancel a task.
type CancelRequest struct {
	TaskID string `json:"task_id"`
}

// CancelReply mirrors orchestrator.CancelAck on the wire.
type CancelReply struct {
	TaskID    string            `json:"task_id"`
	Found     bool              `json:"found"`
	Status    models.TaskStatus `json:"status,omitempty"`
	Cancelled bool              `json:"cancelled"`
	Error     string            `json:"error,omitempty"`
}

// Canceller is what HandleCancels forwards requests to.
type Canceller interface {
	Cancel(taskID string) orchestrator.CancelAck
}

// HandleCancels answers cancel requests on <prefix>.cancel.
func (b *Bus) HandleCancels(c Canceller) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.Subject(SubjectCancel), func(msg *nats.Msg) {
		reply := b.cancelReply(c, msg.Data)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			b.logger.Warn("cancel reply failed", "task_id", reply.TaskID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe cancel: %w", err)
	}
	return sub, nil
}

func (b *Bus) cancelReply(c Canceller, data []byte) CancelReply {
	var req CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// Plain-text task ids are accepted too.
		req.TaskID = strings.TrimSpace(string(data))
	}
	if req.TaskID == "" {
		return CancelReply{Error: "task_id is required"}
	}
	ack := c.Cancel(req.TaskID)
	b.logger.Info("cancel request", "task_id", req.TaskID, "found", ack.Found, "cancelled", ack.Cancelled)
	return CancelReply{TaskID: ack.TaskID, Found: ack.Found, Status: ack.Status, Cancelled: ack.Cancelled}
}

// RequestCancel sends a cancel request and waits for the serving process to answer.
func (b *Bus) RequestCancel(ctx context.Context, taskID string) (*CancelReply, error) {
	data, err := json.Marshal(CancelRequest{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	msg, err := b.nc.RequestWithContext(ctx, b.Subject(SubjectCancel), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("no mybrowse server is listening on %s", b.Subject(SubjectCancel))
		}
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	var reply CancelReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode cancel reply: %w", err)
	}
	if reply.Error != "" {
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}

// Close drains the connection when the bus owns it.
func (b *Bus) Close() error {
	if !b.owned || b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	return b.nc.Drain()
}

var _ orchestrator.EventPublisher = (*Bus)(nil)
