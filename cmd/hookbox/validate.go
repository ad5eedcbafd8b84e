package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hookbox/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Long: `Load the configuration file, apply environment overrides and report every
problem found. Warnings, such as a weak webhook secret, do not fail validation.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(configFile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration: %s\n", path)

	problems := config.Validate(cfg)
	for _, problem := range problems {
		fmt.Fprintf(out, "  ✗ %s\n", problem)
	}
	warnings := append(config.Warnings(cfg), configFileWarnings(path, data)...)
	for _, warning := range warnings {
		fmt.Fprintf(out, "  ! %s\n", warning)
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration has %d problem(s)", len(problems))
	}

	fmt.Fprintf(out, "  ✓ valid (%d handler binding(s), webhook path %s)\n", cfg.HandlerCount(), cfg.WebhookPath())
	return nil
}
