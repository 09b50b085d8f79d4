package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/coverdesk/automation/internal/config"
	"github.com/coverdesk/automation/internal/logger"
	"github.com/coverdesk/automation/services"
	"github.com/coverdesk/automation/workers"
)

func main() {
	// Load Config
	configPath := os.Getenv("COVERDESK_CONFIG_PATH")
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Setup(config.App.LogLevel, config.App.LogPretty)

	if config.App.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable (or config) is required")
	}
	if config.App.RedisURL == "" {
		log.Fatal().Msg("REDIS_URL is required, the worker consumes a redis list")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Warn().Err(err).Msg("Failed to set timezone to UTC")
	}

	redisClient, err := services.OpenRedis(config.App.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure redis")
	}
	defer redisClient.Close()

	engine := services.NewEngine(pg, redisClient, services.EngineOptionsFromConfig(config.App))

	queue := workers.NewRedisEventQueue(redisClient, config.App.Automation.EventQueue)
	triggerWorker := workers.NewTriggerWorker(queue, engine.Workflow, engine.Routing, engine.Entities,
		config.App.Automation.WorkerBlockTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("queue", queue.Key).Msg("Starting trigger worker...")
		triggerWorker.Start(ctx)
	}()

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("Shutting down workers...")
	cancel()
	wg.Wait()
}
