// Package channel adapts transports (terminal, NATS) to the supervisor.
package channel

import (
	"context"
	"strings"

	"github.com/ShayCichocki/mybrowse/internal/logging"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Channel names used in task scopes.
const (
	ChannelCLI  = "cli"
	ChannelNATS = "nats"
)

// Message is one inbound user message.
type Message struct {
	Channel   string
	ChannelID string
	Username  string
	Text      string
	// Progress receives live updates for the task. May be nil.
	Progress orchestrator.ProgressSink
}

// Runner is the part of the supervisor adapters need.
type Runner interface {
	Run(ctx context.Context, in orchestrator.Input) *orchestrator.Result
	Cancel(taskID string) orchestrator.CancelAck
}

// DeliveryMarker records that an attachment reached the user.
type DeliveryMarker interface {
	MarkAttachmentDelivered(ctx context.Context, id string) error
}

// DeliverFunc sends one attachment to the user.
type DeliverFunc func(ctx context.Context, att models.Attachment) error

// Handler turns messages into supervised tasks.
type Handler struct {
	runner Runner
	marker DeliveryMarker
	logger *logging.Logger
}

// NewHandler creates a Handler. marker may be nil.
func NewHandler(runner Runner, marker DeliveryMarker, logger *logging.Logger) *Handler {
	return &Handler{runner: runner, marker: marker, logger: logger.With("component", "channel")}
}

// HandleMessage runs the message as a task. Blank messages return nil.
func (h *Handler) HandleMessage(ctx context.Context, msg Message) *orchestrator.Result {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	h.logger.Debug("message received", "channel", msg.Channel, "channel_id", msg.ChannelID, "username", msg.Username)
	return h.runner.Run(ctx, orchestrator.Input{
		Task:      text,
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		Username:  msg.Username,
		Progress:  msg.Progress,
	})
}

// Cancel forwards a cancel request.
func (h *Handler) Cancel(taskID string) orchestrator.CancelAck {
	return h.runner.Cancel(taskID)
}

// Deliver sends each attachment and marks the persisted ones delivered.
// It returns how many were sent.
func (h *Handler) Deliver(ctx context.Context, res *orchestrator.Result, send DeliverFunc) int {
	if res == nil {
		return 0
	}
	sent := 0
	for _, att := range res.Attachments {
		if err := send(ctx, att); err != nil {
			h.logger.Warn("attachment delivery failed", "task_id", res.TaskID, "path", att.FilePath, "error", err)
			continue
		}
		sent++
		if h.marker == nil || att.ID == "" || res.Ephemeral {
			continue
		}
		if err := h.marker.MarkAttachmentDelivered(ctx, att.ID); err != nil {
			h.logger.Warn("mark attachment delivered failed", "attachment_id", att.ID, "error", err)
		}
	}
	return sent
}
