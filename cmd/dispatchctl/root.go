package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/coverdesk/automation/internal/config"
	"github.com/coverdesk/automation/internal/logger"
	"github.com/coverdesk/automation/services"
)

var (
	configPath string
	agencyID   int64
	contextArg string
)

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Manage and exercise automation rules",
	Long: `dispatchctl validates and imports rule files and fires events against
the configured database, the same way the API server and worker do.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Setup(config.App.LogLevel, true)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("COVERDESK_CONFIG_PATH"), "Path to config file")
}

// openEngine connects to Postgres (and Redis when configured) and wires the dispatch core
func openEngine() (*services.Engine, func(), error) {
	if config.App.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pg.Ping(); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	redisClient, err := services.OpenRedis(config.App.RedisURL)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if redisClient != nil {
			redisClient.Close()
		}
		pg.Close()
	}
	return services.NewEngine(pg, redisClient, services.EngineOptionsFromConfig(config.App)), closeFn, nil
}

// parseContext decodes the --context flag; an empty flag is an empty context
func parseContext(raw string) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("--context must be a JSON object: %w", err)
	}
	return values, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
