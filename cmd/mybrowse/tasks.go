package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mybrowse/internal/state"
)

var (
	tasksLimit     int
	tasksOutput    string
	tasksChannel   string
	tasksChannelID string
	purgeOlderThan time.Duration
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recent tasks",
	Long: `List recent tasks, newest first.

Without --channel every conversation is listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(tasksOutput); err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.store.ListTasks(cmd.Context(), scopeFlags(tasksChannel, tasksChannelID), tasksLimit)
		if err != nil {
			return err
		}
		if tasksOutput == outputYAML {
			return writeYAML(os.Stdout, tasks)
		}
		writeTaskTable(os.Stdout, tasks)
		return nil
	},
}

var tasksPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old tasks with their steps and attachments",
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.store.PurgeOldTasks(cmd.Context(), purgeOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d tasks older than %s.\n", n, purgeOlderThan)
		return nil
	},
}

var taskOutput string

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show one task with its steps and attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(taskOutput); err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		t, err := a.store.GetTask(ctx, args[0])
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("task %s not found", args[0])
		}
		if err != nil {
			return err
		}
		steps, err := a.store.ListSteps(ctx, t.ID)
		if err != nil {
			return err
		}
		atts, err := a.store.ListAttachments(ctx, t.ID)
		if err != nil {
			return err
		}

		if taskOutput == outputYAML {
			return writeYAML(os.Stdout, map[string]any{
				"task":        t,
				"steps":       steps,
				"attachments": atts,
			})
		}
		writeTaskDetail(os.Stdout, t, steps, atts)
		return nil
	},
}

func init() {
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20, "Maximum number of tasks")
	tasksCmd.Flags().StringVarP(&tasksOutput, "output", "o", outputText, "Output format: text or yaml")
	tasksCmd.Flags().StringVar(&tasksChannel, "channel", "", "Only tasks from this channel")
	tasksCmd.Flags().StringVar(&tasksChannelID, "channel-id", "", "Only tasks from this conversation (with --channel)")

	tasksPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Delete tasks created before this long ago")
	tasksCmd.AddCommand(tasksPurgeCmd)

	taskCmd.Flags().StringVarP(&taskOutput, "output", "o", outputText, "Output format: text or yaml")
}
