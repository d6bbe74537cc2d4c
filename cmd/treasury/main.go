// Command treasury runs the club treasury service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/club-treasury/internal/config"
	"github.com/garyjia/club-treasury/internal/container"
	"github.com/garyjia/club-treasury/pkg/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "treasury",
	Short:         "Club treasury: expense claims, approvals and bank reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(importStatementCmd)
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger it describes
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// startContainer loads configuration and starts every component
func startContainer(ctx context.Context) (*container.Container, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// closeContainer releases the container and flushes its logger
func closeContainer(c *container.Container) {
	logger := c.Logger()
	if err := c.Close(); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
	_ = logger.Sync()
}
