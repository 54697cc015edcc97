package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/minutes-gateway/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigCheckCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and exit",
		Long: `Validate configuration and exit.

Loading already rejects unknown keys and invalid values, so reaching this
command means the configuration is usable. Exit status is non-zero otherwise.`,
		Args: cobra.NoArgs,
		RunE: runConfigCheck,
	}
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	r := resolvedCfg

	statusf(cmd.OutOrStdout(), flagQuiet,
		"configuration OK (%s): auth=%s broker=%s scope=%s delivery=%s\n",
		describeSource(r.Path), r.Auth.Mode, r.Broker.Mode, r.Scope.ScopeMode(), r.Delivery.Backend(),
	)

	return nil
}
