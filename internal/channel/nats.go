package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/ShayCichocki/mybrowse/internal/agent"
	"github.com/ShayCichocki/mybrowse/internal/events"
	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Subject suffixes used by the NATS adapter.
const (
	SubjectProgress = "progress"
	SubjectResult   = "result"
)

// QueueGroup load-balances submissions across serving processes.
const QueueGroup = "mybrowse"

// SubmitRequest is the payload of <prefix>.submit.
type SubmitRequest struct {
	ChannelID string `json:"channel_id"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
}

// ProgressMessage is published on <prefix>.progress.<task id>.
type ProgressMessage struct {
	TaskID  string                    `json:"task_id"`
	Scope   models.Scope              `json:"scope"`
	Kind    orchestrator.ProgressKind `json:"kind"`
	Message string                    `json:"message,omitempty"`
	Step    *agent.StepEvent          `json:"step,omitempty"`
}

// ResultMessage is the reply to a submission and is also published on <prefix>.result.
type ResultMessage struct {
	TaskID      string              `json:"task_id"`
	Scope       models.Scope        `json:"scope"`
	Ephemeral   bool                `json:"ephemeral,omitempty"`
	Status      models.TaskStatus   `json:"status"`
	Success     bool                `json:"success"`
	Output      string              `json:"output"`
	Agent       string              `json:"agent"`
	Steps       int                 `json:"steps"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
	DurationMS  int64               `json:"duration_ms"`
	Text        string              `json:"text"`
	Error       string              `json:"error,omitempty"`
}

// NewResultMessage converts a supervisor result for the wire.
func NewResultMessage(scope models.Scope, res *orchestrator.Result) ResultMessage {
	return ResultMessage{
		TaskID:      res.TaskID,
		Scope:       scope,
		Ephemeral:   res.Ephemeral,
		Status:      res.Status,
		Success:     res.Success,
		Output:      res.Output,
		Agent:       res.Agent,
		Steps:       res.Steps,
		Attachments: res.Attachments,
		Errors:      res.Errors,
		DurationMS:  res.Duration.Milliseconds(),
		Text:        res.Format(),
	}
}

// NATS serves task submissions received over a NATS bus.
type NATS struct {
	handler *Handler
	bus     *events.Bus
	logger  *logging.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewNATS creates a NATS adapter.
func NewNATS(handler *Handler, bus *events.Bus, logger *logging.Logger) *NATS {
	return &NATS{handler: handler, bus: bus, logger: logger.With("component", "nats-channel")}
}

// Serve handles submissions and cancels until ctx is done. Tasks run on ctx,
// so shutdown cancels the in-flight ones; Serve returns once they have
// finished as CANCELLED and their replies are sent.
func (n *NATS) Serve(ctx context.Context) error {
	cancelSub, err := n.bus.HandleCancels(n.handler)
	if err != nil {
		return err
	}
	defer cancelSub.Unsubscribe()

	submit := n.bus.Subject(events.SubjectSubmit)
	sub, err := n.bus.Conn().QueueSubscribe(submit, QueueGroup, func(msg *nats.Msg) {
		if !n.track(func() { n.handle(ctx, msg) }) {
			n.reply(msg, ResultMessage{Error: "server is shutting down"})
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", submit, err)
	}
	n.logger.Info("serving", "subject", submit)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		n.logger.Warn("unsubscribe failed", "error", err)
	}
	n.drain()
	return nil
}

// track runs fn in its own goroutine unless the adapter is draining.
func (n *NATS) track(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.draining {
		return false
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
	return true
}

// drain refuses new work and waits for tracked goroutines.
func (n *NATS) drain() {
	n.mu.Lock()
	n.draining = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *NATS) handle(ctx context.Context, msg *nats.Msg) {
	var req SubmitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		n.reply(msg, ResultMessage{Error: fmt.Sprintf("invalid submission: %v", err)})
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		n.reply(msg, ResultMessage{Error: "channel_id is required"})
		return
	}
	scope := models.Scope{Channel: ChannelNATS, ChannelID: req.ChannelID}

	res := n.handler.HandleMessage(ctx, Message{
		Channel:   scope.Channel,
		ChannelID: scope.ChannelID,
		Username:  req.Username,
		Text:      req.Text,
		Progress:  orchestrator.ProgressFunc(func(p orchestrator.Progress) { n.progress(scope, p) }),
	})
	if res == nil {
		n.reply(msg, ResultMessage{Scope: scope, Error: "text is required"})
		return
	}

	out := NewResultMessage(scope, res)
	n.publish(n.bus.Subject(SubjectResult), out)
	if n.reply(msg, out) {
		// Attachments travel by path in the reply.
		n.handler.Deliver(ctx, res, func(context.Context, models.Attachment) error { return nil })
	}
}

func (n *NATS) progress(scope models.Scope, p orchestrator.Progress) {
	pm := ProgressMessage{TaskID: p.TaskID, Scope: scope, Kind: p.Kind, Message: p.Message}
	if p.Kind == orchestrator.ProgressStep {
		step := p.Step
		pm.Step = &step
	}
	n.publish(n.bus.Subject(SubjectProgress, p.TaskID), pm)
}

func (n *NATS) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.logger.Warn("encode failed", "subject", subject, "error", err)
		return
	}
	if err := n.bus.Conn().Publish(subject, data); err != nil {
		n.logger.Warn("publish failed", "subject", subject, "error", err)
	}
}

// reply answers a request and reports whether an answer was sent.
func (n *NATS) reply(msg *nats.Msg, v ResultMessage) bool {
	if msg.Reply == "" {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		n.logger.Warn("encode reply failed", "error", err)
		return false
	}
	if err := msg.Respond(data); err != nil {
		n.logger.Warn("reply failed", "task_id", v.TaskID, "error", err)
		return false
	}
	return true
}
