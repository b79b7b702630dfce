package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/mybrowse/internal/browser"
)

const browserDescription = "Autonomous web browsing agent. Use for: searching the web, opening websites, " +
	"scraping data, taking screenshots, filling forms, clicking buttons, interacting with any website. " +
	"Best for tasks that require navigating the internet."

// BrowserOptions are passed through to the navigation engine.
type BrowserOptions struct {
	MaxSteps       int
	Headless       bool
	ExecutablePath string
	ScreenshotDir  string
	// Instructions, when set, is called per task for the engine's extra system message.
	Instructions func() string
}

// BrowserAgent drives the navigation engine. It needs the execution slot.
type BrowserAgent struct {
	nav  browser.Navigator
	opts BrowserOptions
}

// NewBrowserAgent creates the browser agent.
func NewBrowserAgent(nav browser.Navigator, opts BrowserOptions) *BrowserAgent {
	return &BrowserAgent{nav: nav, opts: opts}
}

// Name implements Agent.
func (a *BrowserAgent) Name() string { return NameBrowser }

// Description implements Agent.
func (a *BrowserAgent) Description() string { return browserDescription }

// Exclusive implements ResourceIntensive.
func (a *BrowserAgent) Exclusive() bool { return true }

// Execute implements Agent.
func (a *BrowserAgent) Execute(ctx context.Context, req *Request, progress ProgressFunc) (*Result, error) {
	task := req.Task
	if req.MemoryDigest != "" {
		task = req.MemoryDigest + "\n\n---\nCurrent task:\n" + req.Task
	}

	navReq := browser.NavigateRequest{
		Task:           task,
		MaxSteps:       a.opts.MaxSteps,
		Headless:       a.opts.Headless,
		ExecutablePath: a.opts.ExecutablePath,
		ScreenshotDir:  a.opts.ScreenshotDir,
	}
	if a.opts.Instructions != nil {
		navReq.Instructions = a.opts.Instructions()
	}

	out, err := a.nav.Navigate(ctx, navReq, func(ev browser.StepEvent) {
		progress.emit(StepEvent{
			Seq:        ev.Step,
			Actions:    ev.Actions,
			NextGoal:   ev.NextGoal,
			Evaluation: ev.Evaluation,
			URL:        ev.URL,
			Message:    stepMessage(ev),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	output := strings.TrimSpace(out.Output)
	if output == "" {
		output = "Task finished without output."
	}
	res := &Result{
		Success:     out.Success,
		Output:      output,
		Attachments: dedupe(out.Attachments),
		Agent:       NameBrowser,
		Steps:       out.Steps,
	}
	if !out.Success {
		res.Errors = []string{output}
	}
	return res, nil
}

// stepMessage renders a step as "[browser] step N: a, b -> goal".
func stepMessage(ev browser.StepEvent) string {
	msg := fmt.Sprintf("[browser] step %d: %s", ev.Step, strings.Join(ev.Actions, ", "))
	if ev.NextGoal != "" {
		msg += " -> " + truncate(ev.NextGoal, 80)
	}
	return msg
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

var (
	_ Agent             = (*ChatAgent)(nil)
	_ Agent             = (*MemoryAgent)(nil)
	_ Agent             = (*BrowserAgent)(nil)
	_ ResourceIntensive = (*BrowserAgent)(nil)
)
