package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gco-platform/ledgersync/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect project configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate ledgersync.yaml in the working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				color.Red("config invalid: %v", err)
				return err
			}

			remote := cfg.Store.Remote
			if remote == "" {
				remote = "none"
			}
			fmt.Printf("upstream:   %s\n", cfg.Upstream.BaseURL)
			fmt.Printf("store:      local + %s\n", remote)
			fmt.Printf("partitions: %d\n", len(cfg.Partitions))
			for _, p := range cfg.Partitions {
				source := "inline key"
				switch {
				case p.SecretID != "":
					source = "secrets manager"
				case p.AccessKeyEnv != "":
					source = "env " + p.AccessKeyEnv
				case p.AccessKey == "":
					source = "no credentials"
				}
				fmt.Printf("  %-20s %s\n", p.ID, source)
			}
			if cfg.Sheet.URL != "" {
				fmt.Printf("sheet:      configured (header row %d)\n", cfg.Sheet.HeaderRow)
			}
			color.Green("config OK")
			return nil
		},
	}
}
