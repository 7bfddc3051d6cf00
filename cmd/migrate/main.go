// Command migrate applies, rolls back, or reports the status of the sync
// engine's Postgres schema, independent of the main engine process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/syncengine/internal/config"
	"github.com/vitaliisemenov/syncengine/internal/infrastructure/migrations"
	"github.com/vitaliisemenov/syncengine/pkg/logger"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the sync engine's database schema",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")

	root.AddCommand(
		newUpCommand(&configPath),
		newDownCommand(&configPath),
		newStatusCommand(&configPath),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openManager(configPath string) (*migrations.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})

	mgr, err := migrations.NewManager(&migrations.Config{DSN: cfg.Database.URL(), Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("open migration manager: %w", err)
	}
	return mgr, cfg, nil
}

func newUpCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openManager(*configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()
			return mgr.Up(context.Background())
		},
	}
}

func newDownCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openManager(*configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()
			return mgr.Down(context.Background())
		},
	}
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openManager(*configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()
			version, err := mgr.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("current schema version: %d\n", version)
			return nil
		},
	}
}
