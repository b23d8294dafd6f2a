package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/manager"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet manager control plane",
	Long: `serve loads the configured hosts/templates/registry, rebuilds
in-memory state from disk, reconciles the reverse proxy once, and then
blocks, running the crash-recovery loop, the image-retention loop, and
the control-plane HTTP API until it receives SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return os.Getenv("CONFIG_PATH")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	m, err := manager.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}

	return m.Run(context.Background())
}
