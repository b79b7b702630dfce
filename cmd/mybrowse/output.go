package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/mybrowse/pkg/models"
)

// Output formats for listing commands.
const (
	outputText = "text"
	outputYAML = "yaml"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or yaml)", format)
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// scopeFlags returns the scope selected by --channel and --channel-id.
// An empty channel selects every scope.
func scopeFlags(channel, channelID string) models.Scope {
	if channel == "" {
		return models.Scope{}
	}
	return models.Scope{Channel: channel, ChannelID: channelID}
}

func writeTaskTable(w io.Writer, tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-9s  %-7s  %5s  %-16s  %s\n", "ID", "STATUS", "AGENT", "STEPS", "CREATED", "PROMPT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%-36s  %-9s  %-7s  %5d  %-16s  %s\n",
			t.ID, t.Status, t.Agent, t.Steps, t.CreatedAt.Local().Format("2006-01-02 15:04"), oneLine(t.Prompt, 60))
	}
}

func writeTaskDetail(w io.Writer, t *models.Task, steps []models.StepRecord, atts []models.Attachment) {
	fmt.Fprintf(w, "Task:     %s\n", t.ID)
	fmt.Fprintf(w, "Scope:    %s\n", t.Scope())
	if t.Username != "" {
		fmt.Fprintf(w, "User:     %s\n", t.Username)
	}
	fmt.Fprintf(w, "Status:   %s\n", t.Status)
	if t.Agent != "" {
		fmt.Fprintf(w, "Agent:    %s\n", t.Agent)
	}
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.DurationMS != nil {
		fmt.Fprintf(w, "Duration: %s\n", (time.Duration(*t.DurationMS) * time.Millisecond).String())
	}
	fmt.Fprintf(w, "Prompt:   %s\n", t.Prompt)

	if len(steps) > 0 {
		fmt.Fprintf(w, "\nSteps (%d):\n", len(steps))
		for _, s := range steps {
			line := fmt.Sprintf("  %d. %s", s.Seq, strings.Join(s.Actions, ", "))
			if s.NextGoal != "" {
				line += " -> " + s.NextGoal
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(atts) > 0 {
		fmt.Fprintln(w, "\nAttachments:")
		for _, a := range atts {
			delivered := ""
			if a.Delivered {
				delivered = " (delivered)"
			}
			fmt.Fprintf(w, "  [%s] %s%s\n", a.FileType, a.FilePath, delivered)
		}
	}
	if t.Output != nil {
		fmt.Fprintf(w, "\nOutput:\n%s\n", *t.Output)
	}
}

func writeMemories(w io.Writer, records []models.MemoryRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No memories stored.")
		return
	}
	for _, m := range records {
		fmt.Fprintf(w, "[%s] %s  %s\n", m.Type, m.CreatedAt.Local().Format("2006-01-02 15:04"), oneLine(m.Content, 100))
	}
}

// oneLine flattens s and cuts it to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
