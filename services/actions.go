package services

import (
	"context"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/rs/zerolog/log"
)

// DefaultCallTimeout bounds an action handler when the dispatcher has no explicit timeout
const DefaultCallTimeout = 10 * time.Second

// Invocation identifies the rule pass an action runs in
type Invocation struct {
	Event   string
	RuleID  int64
	Context rulecontext.Context
	FiredAt time.Time
}

// ActionHandler performs one action and returns a human readable message.
// A returned error marks the action failed; it never fails the rule.
// Handlers must return once ctx is done: the dispatcher waits for them so
// actions of one rule never overlap.
type ActionHandler func(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error)

// ActionDeps are the collaborators the built-in handlers call
type ActionDeps struct {
	Notifier Notifier
	Mailer   Mailer
	Webhooks WebhookPoster
	Entities EntityRepository
	Assigner LeadAssigner
	Tasks    TaskRepository
}

// ActionDispatcher maps action types to handlers and runs them in isolation
type ActionDispatcher struct {
	deps     ActionDeps
	handlers map[db.ActionType]ActionHandler

	// CallTimeout bounds each handler call, including its collaborator I/O
	CallTimeout time.Duration
}

// NewActionDispatcher creates a dispatcher with every built-in action registered
func NewActionDispatcher(deps ActionDeps, callTimeout time.Duration) *ActionDispatcher {
	d := &ActionDispatcher{
		deps:        deps,
		handlers:    make(map[db.ActionType]ActionHandler),
		CallTimeout: callTimeout,
	}

	d.Register(db.ActionNotify, d.handleNotify)
	d.Register(db.ActionUpdateStatus, d.handleUpdateStatus)
	d.Register(db.ActionAssignAgent, d.handleAssignAgent)
	d.Register(db.ActionCreateTask, d.handleCreateTask)
	d.Register(db.ActionAddTag, d.handleAddTag)
	d.Register(db.ActionFireWebhook, d.handleFireWebhook)
	d.Register(db.ActionSendEmail, d.handleSendEmail)

	return d
}

// Register installs or replaces the handler for an action type
func (d *ActionDispatcher) Register(actionType db.ActionType, handler ActionHandler) {
	d.handlers[actionType] = handler
}

// Execute runs one action. Handler failures, panics and timeouts come back as a
// failed ActionResult. An error is returned only when the dispatch table itself
// is broken, which fails the whole rule.
func (d *ActionDispatcher) Execute(ctx context.Context, inv Invocation, action db.Action) (db.ActionResult, error) {
	result := db.ActionResult{Type: string(action.Type)}

	handler, ok := d.handlers[action.Type]
	if !ok {
		result.Status = db.ActionStatusFailed
		result.Message = fmt.Sprintf("unknown action type: %s", action.Type)
		return result, nil
	}
	if handler == nil {
		return result, fmt.Errorf("action %q has no handler registered", action.Type)
	}

	if inv.FiredAt.IsZero() {
		inv.FiredAt = time.Now()
	}
	cfg := action.Config
	if cfg == nil {
		cfg = db.ActionConfig{}
	}

	timeout := d.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		message string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()
		msg, err := handler(callCtx, inv, cfg)
		done <- outcome{message: msg, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		<-done
		out = outcome{err: fmt.Errorf("action timed out after %s", timeout)}
	}

	if out.err != nil {
		log.Warn().
			Err(out.err).
			Int64("rule_id", inv.RuleID).
			Str("trigger", inv.Event).
			Str("action", string(action.Type)).
			Msg("Action failed")
		result.Status = db.ActionStatusFailed
		result.Message = out.err.Error()
		return result, nil
	}

	result.Status = db.ActionStatusSuccess
	result.Message = out.message
	return result, nil
}
