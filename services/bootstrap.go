package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coverdesk/automation/internal/config"
)

// EngineOptions carries the settings NewEngine needs from configuration
type EngineOptions struct {
	CallTimeout             time.Duration
	WebhookTimeout          time.Duration
	FirebaseCredentialsFile string
	JWTSecret               string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// EngineOptionsFromConfig maps loaded configuration onto EngineOptions
func EngineOptionsFromConfig(cfg config.Config) EngineOptions {
	return EngineOptions{
		CallTimeout:             cfg.Automation.CallTimeout,
		WebhookTimeout:          cfg.Automation.WebhookTimeout,
		FirebaseCredentialsFile: cfg.FirebaseCredentialsFile,
		JWTSecret:               cfg.JWTSecret,
		SMTPHost:                cfg.SMTP.Host,
		SMTPPort:                cfg.SMTP.Port,
		SMTPUsername:            cfg.SMTP.Username,
		SMTPPassword:            cfg.SMTP.Password,
		SMTPFrom:                cfg.SMTP.From,
	}
}

// OpenRedis parses a redis:// URL. An empty URL yields a nil client.
func OpenRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Engine bundles the Postgres-backed services shared by the API server,
// the event worker and dispatchctl
type Engine struct {
	Rules         *RuleService
	Executions    *ExecutionService
	Entities      *EntityService
	Agencies      *AgencyService
	Tasks         *TaskService
	Notifications *NotificationService
	Auth          *AuthService
	Dispatcher    *ActionDispatcher
	Workflow      *WorkflowEngine
	Routing       *RoutingService
}

// NewEngine wires the dispatch core to its Postgres, Redis, FCM, SMTP and HTTP collaborators.
// A nil Redis client falls back to a process-local round-robin cursor.
func NewEngine(pg *sql.DB, redisClient *redis.Client, opts EngineOptions) *Engine {
	rules := NewRuleService(pg)
	executions := NewExecutionService(pg)
	entities := NewEntityService(pg)
	agencies := NewAgencyService(pg)
	tasks := NewTaskService(pg)
	notifications := NewNotificationService(pg, NewFCMService(pg, opts.FirebaseCredentialsFile))

	dispatcher := NewActionDispatcher(ActionDeps{
		Notifier: notifications,
		Mailer:   NewSMTPMailer(opts.SMTPHost, opts.SMTPPort, opts.SMTPUsername, opts.SMTPPassword, opts.SMTPFrom),
		Webhooks: NewWebhookClient(opts.WebhookTimeout),
		Entities: entities,
		Assigner: entities,
		Tasks:    tasks,
	}, opts.CallTimeout)

	var cursor RotationCursor = NewMemoryRotationCursor()
	if redisClient != nil {
		cursor = NewRedisRotationCursor(redisClient)
	}

	return &Engine{
		Rules:         rules,
		Executions:    executions,
		Entities:      entities,
		Agencies:      agencies,
		Tasks:         tasks,
		Notifications: notifications,
		Auth:          NewAuthService(pg, opts.JWTSecret),
		Dispatcher:    dispatcher,
		Workflow:      NewWorkflowEngine(rules, executions, dispatcher),
		Routing: NewRoutingService(rules, executions, agencies,
			DefaultAssignmentResolvers(cursor, agencies), opts.CallTimeout),
	}
}
