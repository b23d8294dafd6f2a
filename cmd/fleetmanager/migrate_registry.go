package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

var migrateRegistryCmd = &cobra.Command{
	Use:   "migrate-registry",
	Short: "Rewrite legacy single-part registry keys to the current composite-key schema",
	Long: `migrate-registry loads the configured registry file, which
itself performs the legacy-key migration (registry.Load rewrites any
bare agent_id key into the current (agent_id, occurrence_id, host_id)
schema and persists the result), and exits. It exists as a standalone
operator command for deployments that want to run the migration once,
offline, before the control plane itself ever starts serving traffic.`,
	RunE: runMigrateRegistry,
}

func init() {
	rootCmd.AddCommand(migrateRegistryCmd)
}

func runMigrateRegistry(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := cfg.AgentsDir + "/metadata.json"
	reg, err := registry.Load(path)
	if err != nil {
		return fmt.Errorf("load registry %q: %w", path, err)
	}

	fmt.Printf("registry %q migrated: %d agent(s)\n", path, len(reg.List()))
	return nil
}
