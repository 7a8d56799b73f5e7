// Package main implements the forestctl CLI for manual operations
// against a forestd data directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BretMeraki/forestd/internal/config"
	"github.com/BretMeraki/forestd/internal/logging"
	"github.com/BretMeraki/forestd/pkg/core"
	"go.uber.org/zap"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forestctl",
	Short: "Operator CLI for forestd durable state",
	Long: `forestctl inspects and repairs a forestd data directory: project
documents, dialogue sessions, and crash debris left by interrupted
writes. It operates directly on the data directory; the owning process
should be stopped first, since forestd assumes a single writer process.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/forestd/config.yaml)")
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(verifyCmd)
}

// openCore builds a Core from config for one CLI invocation. The CLI
// logs at warn to keep command output clean.
func openCore() (*core.Core, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "console"

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	c, err := core.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}
