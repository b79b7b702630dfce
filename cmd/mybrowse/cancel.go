package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cancelTimeout time.Duration

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task running in a serving process",
	Long: `Cancel a task running under "mybrowse serve".

The request is sent over NATS; the serving process answers whether the
task was still running. Tasks started with "mybrowse run" are cancelled
with Ctrl+C instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		bus, err := a.connectBus()
		if err != nil {
			return err
		}
		if bus == nil {
			return errors.New("events.nats_url is not set")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cancelTimeout)
		defer cancel()
		reply, err := bus.RequestCancel(ctx, args[0])
		if err != nil {
			return err
		}
		switch {
		case reply.Cancelled:
			fmt.Printf("Cancel requested for %s (was %s).\n", reply.TaskID, reply.Status)
		case reply.Found:
			fmt.Printf("Task %s already finished (%s).\n", reply.TaskID, reply.Status)
		default:
			fmt.Printf("Task %s is not running.\n", reply.TaskID)
		}
		return nil
	},
}

func init() {
	cancelCmd.Flags().DurationVar(&cancelTimeout, "timeout", 5*time.Second, "How long to wait for the server to answer")
}
