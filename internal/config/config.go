package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	// Admin API auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Push delivery (optional)
	FirebaseCredentialsFile string `mapstructure:"firebase_credentials_file"`

	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Automation AutomationConfig `mapstructure:"automation"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AutomationConfig struct {
	// CallTimeout bounds every collaborator call made by an action handler
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	WebhookTimeout     time.Duration `mapstructure:"webhook_timeout"`
	EventQueue         string        `mapstructure:"event_queue"`
	WorkerBlockTimeout time.Duration `mapstructure:"worker_block_timeout"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present (local development convenience)
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("automation.call_timeout", "10s")
	v.SetDefault("automation.webhook_timeout", "5s")
	v.SetDefault("automation.event_queue", "automation:events")
	v.SetDefault("automation.worker_block_timeout", "5s")

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config") // Look for dev.config.yaml
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("coverdesk")

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("log_pretty", "LOG_PRETTY")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("firebase_credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")

	// SMTP
	_ = v.BindEnv("smtp.host", "SMTP_HOST")
	_ = v.BindEnv("smtp.port", "SMTP_PORT")
	_ = v.BindEnv("smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD")
	_ = v.BindEnv("smtp.from", "SMTP_FROM")

	// Automation engine
	_ = v.BindEnv("automation.call_timeout", "AUTOMATION_CALL_TIMEOUT")
	_ = v.BindEnv("automation.webhook_timeout", "AUTOMATION_WEBHOOK_TIMEOUT")
	_ = v.BindEnv("automation.event_queue", "AUTOMATION_EVENT_QUEUE")
	_ = v.BindEnv("automation.worker_block_timeout", "AUTOMATION_WORKER_BLOCK_TIMEOUT")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Loaded config file")
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	return nil
}
