package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hydra/internal/config"
)

var cfg *config.Config

// modeAnnotation names the config validation mode a command needs.
const modeAnnotation = "hydra.mode"

var rootCmd = &cobra.Command{
	Use:   "hydra",
	Short: "Distributed lead research worker",
	Long:  "Claims research missions from a shared queue, gathers candidates through search APIs and a headless browser, enriches and scores them, and persists deduplicated results with provenance.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if mode, ok := cmd.Annotations[modeAnnotation]; ok {
			if err := cfg.Validate(mode); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func withMode(mode string) map[string]string {
	return map[string]string{modeAnnotation: mode}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
