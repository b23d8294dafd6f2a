// Command fleetmanager is A7, the CLI entrypoint: a cobra root command
// ("serve" to run the control plane, "migrate-registry" for a one-shot
// legacy-key rewrite, plus cobra's built-in --version) generalized from
// the teacher's bare single-purpose main.go, which had no subcommands of
// its own to dispatch between.
//
// Grounded on cuemby-warren/cmd/warren/main.go's root-command-plus-
// persistent-flags shape and version template, and
// other_examples/yeetrun's one-file-per-subcommand layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information; overridden via -ldflags at release build time.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "fleetmanager",
	Short: "Lifecycle manager for a fleet of agent containers",
	Long: `fleetmanager owns identity allocation, placement, container
materialization, reverse-proxy routing, crash recovery, and versioned
deployments for a fleet of long-running agent containers spread across
one or more Docker hosts.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetmanager version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file (CONFIG_PATH env var also honored)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
