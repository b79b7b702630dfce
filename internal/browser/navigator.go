// Package browser drives the external web-navigation engine.
package browser

import (
	"context"
	"encoding/json"
)

// Navigator runs one autonomous browsing task.
type Navigator interface {
	// Navigate blocks until the engine finishes, fails or ctx is done.
	// onStep is called synchronously for every step the engine reports.
	Navigate(ctx context.Context, req NavigateRequest, onStep func(StepEvent)) (*Outcome, error)
}

// NavigateRequest is sent to the engine on stdin as one JSON object.
type NavigateRequest struct {
	Task           string `json:"task"`
	MaxSteps       int    `json:"max_steps,omitempty"`
	Headless       bool   `json:"headless"`
	ExecutablePath string `json:"executable_path,omitempty"`
	ScreenshotDir  string `json:"screenshot_dir,omitempty"`
	// Instructions extend the engine's system message.
	Instructions string `json:"instructions,omitempty"`
}

// StepEvent is one navigation step reported by the engine.
type StepEvent struct {
	Step       int      `json:"step"`
	Actions    []string `json:"actions,omitempty"`
	NextGoal   string   `json:"next_goal,omitempty"`
	Evaluation string   `json:"evaluation,omitempty"`
	URL        string   `json:"url,omitempty"`
}

// Outcome is the engine's final report.
type Outcome struct {
	Success bool
	Output  string
	// Attachments are file paths (screenshots, downloads) in report order.
	Attachments []string
	Steps       int
}

// MessageType tags each JSON line the engine writes to stdout.
type MessageType string

const (
	MessageStep       MessageType = "step"
	MessageAttachment MessageType = "attachment"
	MessageResult     MessageType = "result"
	MessageError      MessageType = "error"
)

// message is the union of every line the engine may emit.
type message struct {
	Type MessageType `json:"type"`

	// step
	StepEvent

	// attachment
	Path string `json:"path,omitempty"`

	// result
	Success     *bool    `json:"success,omitempty"`
	Output      string   `json:"output,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	Steps       int      `json:"steps,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func parseMessage(line []byte) (message, error) {
	var m message
	err := json.Unmarshal(line, &m)
	return m, err
}
