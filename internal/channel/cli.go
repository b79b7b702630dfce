package channel

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// CLI renders one conversation on a terminal.
type CLI struct {
	handler   *Handler
	out       io.Writer
	channelID string
	username  string

	mu sync.Mutex

	statusColor *color.Color
	noticeColor *color.Color
	stepColor   *color.Color
	panelStyle  lipgloss.Style
	errorStyle  lipgloss.Style
}

// NewCLI creates a terminal adapter writing to out.
func NewCLI(handler *Handler, out io.Writer, channelID, username string) *CLI {
	if channelID == "" {
		channelID = "local"
	}
	return &CLI{
		handler:     handler,
		out:         out,
		channelID:   channelID,
		username:    username,
		statusColor: color.New(color.FgCyan),
		noticeColor: color.New(color.FgHiBlack),
		stepColor:   color.New(color.FgYellow),
		panelStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		errorStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1),
	}
}

// Scope returns the scope this terminal conversation uses.
func (c *CLI) Scope() models.Scope {
	return models.Scope{Channel: ChannelCLI, ChannelID: c.channelID}
}

// Run executes text as a task, rendering progress and then the result panel.
func (c *CLI) Run(ctx context.Context, text string) *orchestrator.Result {
	res := c.handler.HandleMessage(ctx, Message{
		Channel:   ChannelCLI,
		ChannelID: c.channelID,
		Username:  c.username,
		Text:      text,
		Progress:  orchestrator.ProgressFunc(c.OnProgress),
	})
	if res == nil {
		return nil
	}
	c.RenderResult(res)
	c.handler.Deliver(ctx, res, c.deliver)
	return res
}

// OnProgress prints one progress update.
func (c *CLI) OnProgress(p orchestrator.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p.Kind {
	case orchestrator.ProgressStatus:
		fmt.Fprintln(c.out, c.statusColor.Sprint("› "+p.Message))
	case orchestrator.ProgressNotice:
		fmt.Fprintln(c.out, c.noticeColor.Sprint("  "+p.Message))
	case orchestrator.ProgressStep:
		fmt.Fprintln(c.out, c.stepColor.Sprint(FormatStep(p)))
	}
}

// FormatStep renders a step update as one line.
func FormatStep(p orchestrator.Progress) string {
	st := p.Step
	var b strings.Builder
	fmt.Fprintf(&b, "  [step %d]", st.Seq)
	if len(st.Actions) > 0 {
		b.WriteString(" " + strings.Join(st.Actions, ", "))
	}
	if st.NextGoal != "" {
		b.WriteString(" -> " + st.NextGoal)
	}
	if st.URL != "" {
		b.WriteString(" (" + st.URL + ")")
	}
	return b.String()
}

// RenderResult prints the result inside a bordered panel.
func (c *CLI) RenderResult(res *orchestrator.Result) {
	style := c.panelStyle
	if res.Status == models.TaskStatusFailed {
		style = c.errorStyle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, style.Render(res.Format()))
	if res.Ephemeral {
		fmt.Fprintln(c.out, c.noticeColor.Sprint("  (task was not saved: storage unavailable)"))
	} else {
		fmt.Fprintln(c.out, c.noticeColor.Sprintf("  task %s", res.TaskID))
	}
}

func (c *CLI) deliver(_ context.Context, att models.Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "  attachment: %s\n", att.FilePath)
	return err
}
