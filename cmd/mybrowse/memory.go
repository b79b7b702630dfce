package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mybrowse/internal/channel"
	"github.com/ShayCichocki/mybrowse/pkg/models"
)

var (
	memoryChannel   string
	memoryChannelID string
	memoryLimit     int
	memoryOutput    string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect or clear long-term memory for a conversation",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent memories, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(memoryOutput); err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.GetMemoryContext(cmd.Context(), memoryScope(), memoryLimit)
		if err != nil {
			return err
		}
		if memoryOutput == outputYAML {
			return writeYAML(os.Stdout, records)
		}
		writeMemories(os.Stdout, records)
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every memory of the conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		scope := memoryScope()
		n, err := a.store.DeleteMemory(cmd.Context(), scope)
		if err != nil {
			return err
		}
		fmt.Printf("%d memories deleted from %s.\n", n, scope)
		return nil
	},
}

func memoryScope() models.Scope {
	return models.Scope{Channel: memoryChannel, ChannelID: memoryChannelID}
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryChannel, "channel", channel.ChannelCLI, "Channel of the conversation")
	memoryCmd.PersistentFlags().StringVar(&memoryChannelID, "channel-id", "local", "Conversation id")
	memoryListCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 20, "Maximum number of memories")
	memoryListCmd.Flags().StringVarP(&memoryOutput, "output", "o", outputText, "Output format: text or yaml")

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryClearCmd)
}
