package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mybrowse/internal/channel"
	"github.com/ShayCichocki/mybrowse/internal/orchestrator"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

var (
	runChannelID string
	runUsername  string
)

var runCmd = &cobra.Command{
	Use:   "run <task...>",
	Short: "Run one task and print its result",
	Long: `Run one task on the terminal channel.

The task is routed to the chat, memory, or browser agent. Progress is
printed as it happens and the result is shown when the task ends.
Press Ctrl+C to cancel the task.

Examples:
  mybrowse run cari harga iphone 15 di tokopedia
  mybrowse run ingat bahwa saya alergi kacang
  mybrowse run what do you remember about me`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runOnce(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if res != nil && res.Status == models.TaskStatusFailed {
			return fmt.Errorf("task failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runChannelID, "channel-id", "local", "Conversation id for memory and history")
	runCmd.Flags().StringVar(&runUsername, "username", os.Getenv("USER"), "Name recorded on the task")
	rootCmd.Flags().StringVar(&runChannelID, "channel-id", "local", "Conversation id for memory and history")
	rootCmd.Flags().StringVar(&runUsername, "username", os.Getenv("USER"), "Name recorded on the task")
}

// newCLI builds the supervisor and the terminal adapter.
func newCLI(ctx context.Context) (*app, *channel.CLI, error) {
	a, err := newApp(ctx)
	if err != nil {
		return nil, nil, err
	}
	bus, err := a.connectBus()
	if err != nil {
		a.logger.Warn("event bus unavailable", "error", err)
	}
	var publishers []orchestrator.EventPublisher
	if bus != nil {
		publishers = append(publishers, bus)
	}
	sup, err := a.newSupervisor(publishers...)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	handler := channel.NewHandler(sup, a.store, a.logger)
	return a, channel.NewCLI(handler, os.Stdout, runChannelID, runUsername), nil
}

// runOnce runs a single task; SIGINT cancels it.
func runOnce(ctx context.Context, task string) (*orchestrator.Result, error) {
	a, cli, err := newCLI(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Run(ctx, task), nil
}

// runInteractive reads one task per line until EOF or "exit".
// Ctrl+C cancels the running task; at the prompt it exits.
func runInteractive(ctx context.Context) error {
	a, cli, err := newCLI(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("%s mybrowse %s. Type a task, or \"exit\" to quit.\n", color.CyanString("›"), Version())
	return interactiveLoop(ctx, os.Stdin, os.Stdout, cli.Run)
}

// interactiveLoop drives run for each non-empty input line.
func interactiveLoop(ctx context.Context, in io.Reader, out io.Writer, run func(context.Context, string) *orchestrator.Result) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "\n> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		taskCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			select {
			case <-sigCh:
				fmt.Fprintln(out, color.YellowString("\ncancelling..."))
				cancel()
			case <-done:
			}
		}()
		run(taskCtx, line)
		close(done)
		cancel()
	}
}
