package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basketly/engage/internal/config"
	"github.com/basketly/engage/internal/db"
	"github.com/basketly/engage/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "engage",
		Short: "Conversational commerce engagement service",
	}

	var cfgPath string
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engagement server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(resolveConfigPath(cfgPath))
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cfgPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			if err := db.Migrate(cfg.Postgres); err != nil {
				return err
			}
			logger.L.Info("migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}
