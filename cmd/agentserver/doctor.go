package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentserver/internal/appconfig"
)

// buildDoctorCmd creates the "doctor" command: validate configuration and
// report description-cache health, grounded on the teacher's
// cmd/nexus/commands_doctor.go.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report description cache stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration OK (lm_provider=%s lm_model=%s driver=%s)\n", cfg.LMProvider, cfg.LMModel, cfg.Driver)

	store, err := buildDescriptionStore(cfg)
	if err != nil {
		return fmt.Errorf("open description cache: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	stats, err := store.StatsByProvider()
	if err != nil {
		return fmt.Errorf("description cache stats: %w", err)
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "description cache is empty")
		return nil
	}

	fmt.Fprintln(out, "description cache stats (modelId, cached uses, avg generation ms):")
	for _, s := range stats {
		fmt.Fprintf(out, "  %-40s count=%-6d avg_gen_ms=%.1f\n", s.ModelID, s.Count, s.AvgGenMillis)
	}
	return nil
}
