package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/coverdesk/automation/internal/config"
	"github.com/coverdesk/automation/internal/logger"
	"github.com/coverdesk/automation/router"
	"github.com/coverdesk/automation/services"
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
	if config.App.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty, bearer tokens will be rejected")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Connected to database")

	redisClient, err := services.OpenRedis(config.App.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info().Msg("Round-robin cursors stored in redis")
	} else {
		log.Warn().Msg("REDIS_URL not set, round-robin cursors are process-local")
	}

	engine := services.NewEngine(pg, redisClient, services.EngineOptionsFromConfig(config.App))

	srv := &http.Server{
		Addr:              ":" + config.App.Port,
		Handler:           router.NewGinRouter(pg, redisClient, engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
}
