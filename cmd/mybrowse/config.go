package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mybrowse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration with secrets masked.

Configuration is read from ~/.config/mybrowse/config.yaml, then .mybrowse.yaml
in the current directory or a parent, then the environment (a .env file in
the working directory is loaded first).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("# user config:    %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("# project config: %s\n", p)
		}
		fmt.Printf("# credentials:    %s\n", config.GetAPIKeySource(cfg))
		return writeYAML(os.Stdout, cfg.Redacted())
	},
}
