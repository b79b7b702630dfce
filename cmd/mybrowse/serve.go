package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mybrowse/internal/channel"
	"github.com/ShayCichocki/mybrowse/internal/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tasks submitted over NATS",
	Long: `Serve tasks submitted over NATS until interrupted.

Subjects (prefix from events.subject_prefix, default "mybrowse"):
  <prefix>.submit              request: {"channel_id": "...", "username": "...", "text": "..."}
                               reply: the task result
  <prefix>.cancel              request: {"task_id": "..."}; reply: the cancel acknowledgement
  <prefix>.progress.<task id>  live status, notices, and steps
  <prefix>.result              every finished task
  <prefix>.events.<type>       task lifecycle events

Requires events.nats_url (or NATS_URL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
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
		sup, err := a.newSupervisor(bus)
		if err != nil {
			return err
		}

		adapter := channel.NewNATS(channel.NewHandler(sup, a.store, a.logger), bus, a.logger)
		fmt.Printf("mybrowse %s serving on %s\n", Version(), bus.Subject(events.SubjectSubmit))
		return adapter.Serve(ctx)
	},
}
