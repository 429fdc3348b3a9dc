package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zeusync/islandsync/internal/config"
)

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the island manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s transport to %s\n", cfg.Transport.Kind, cfg.ServerAddr())

			if cfg.Islands.Manifest == "" {
				return nil
			}
			manifest, err := config.LoadManifest(cfg.Islands.Manifest)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "manifest ok: %d islands\n", len(manifest.Islands))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration")
	return cmd
}
