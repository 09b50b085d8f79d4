package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/spf13/cast"
)

// Role keywords accepted by notify, create_task and send_email
const (
	RoleAgent       = "agent"
	RoleAgencyOwner = "agency_owner"
	RoleConsumer    = "consumer"
)

var roleKeywords = map[string]bool{
	RoleAgent:       true,
	RoleAgencyOwner: true,
	RoleConsumer:    true,
}

var errNotConfigured = errors.New("collaborator not configured")

// resolveRoleID maps a role keyword to the "<role>_id" context value
func resolveRoleID(rc rulecontext.Context, role string) (int64, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		role = RoleAgent
	}
	if !roleKeywords[role] {
		return 0, fmt.Errorf("unknown recipient role: %s", role)
	}
	id, ok := rc.GetInt(role + "_id")
	if !ok {
		return 0, fmt.Errorf("no %s id in context", role)
	}
	return id, nil
}

// configInt reads an integer config value, applying placeholders to strings
func configInt(cfg db.ActionConfig, key string, rc rulecontext.Context) (int64, bool) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case bool:
		return 0, false
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
	}
	if s, isString := raw.(string); isString {
		raw = strings.TrimSpace(Substitute(s, rc))
		if raw == "" {
			return 0, false
		}
	}
	n, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveEntity picks the entity type (config, then context, default lead)
// and its id from the "<type>_id" context value
func resolveEntity(cfg db.ActionConfig, rc rulecontext.Context) (db.EntityType, int64, error) {
	entityType := db.EntityType(substituteConfig(cfg, "entity_type", rc))
	if entityType == "" {
		if s, ok := rc.GetString("entity_type"); ok {
			entityType = db.EntityType(s)
		}
	}
	if entityType == "" {
		entityType = db.EntityLead
	}
	if !db.IsValidEntityType(entityType) {
		return "", 0, fmt.Errorf("unsupported entity type: %s", entityType)
	}

	id, ok := rc.GetInt(string(entityType) + "_id")
	if !ok {
		return "", 0, fmt.Errorf("no %s_id in context", entityType)
	}
	return entityType, id, nil
}

func (d *ActionDispatcher) handleNotify(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Notifier == nil {
		return "", fmt.Errorf("notify: %w", errNotConfigured)
	}

	message := substituteConfig(cfg, "message", inv.Context)
	if message == "" {
		return "", errors.New("notify: message is required")
	}

	userID, ok := configInt(cfg, "user_id", inv.Context)
	if !ok {
		var err error
		userID, err = resolveRoleID(inv.Context, substituteConfig(cfg, "recipient", inv.Context))
		if err != nil {
			return "", fmt.Errorf("notify: %w", err)
		}
	}

	title := substituteConfig(cfg, "title", inv.Context)
	if title == "" {
		title = "Automation"
	}

	err := d.deps.Notifier.Send(ctx, db.NotificationInput{
		UserID:    userID,
		Type:      db.NotificationTypeAutomation,
		Title:     title,
		Body:      message,
		ActionURL: substituteConfig(cfg, "action_url", inv.Context),
		Data: map[string]interface{}{
			"rule_id": inv.RuleID,
			"event":   inv.Event,
		},
	})
	if err != nil {
		return "", fmt.Errorf("notify user %d: %w", userID, err)
	}
	return fmt.Sprintf("notified user %d", userID), nil
}

func (d *ActionDispatcher) handleUpdateStatus(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Entities == nil {
		return "", fmt.Errorf("update_status: %w", errNotConfigured)
	}

	status := substituteConfig(cfg, "status", inv.Context)
	if status == "" {
		return "", errors.New("update_status: status is required")
	}

	entityType, id, err := resolveEntity(cfg, inv.Context)
	if err != nil {
		return "", fmt.Errorf("update_status: %w", err)
	}

	entity, err := d.deps.Entities.Find(ctx, entityType, id)
	if err != nil {
		return "", fmt.Errorf("update_status: load %s %d: %w", entityType, id, err)
	}
	if entity == nil {
		return "", fmt.Errorf("update_status: %s %d not found", entityType, id)
	}

	if err := d.deps.Entities.UpdateStatus(ctx, entityType, id, status); err != nil {
		return "", fmt.Errorf("update_status: %w", err)
	}
	return fmt.Sprintf("%s %d status changed from %q to %q", entityType, id, entity.Status, status), nil
}

func (d *ActionDispatcher) handleAssignAgent(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Assigner == nil {
		return "", fmt.Errorf("assign_agent: %w", errNotConfigured)
	}

	agentID, ok := configInt(cfg, "agent_id", inv.Context)
	if !ok {
		return "", errors.New("assign_agent: agent_id is required")
	}
	leadID, ok := inv.Context.GetInt("lead_id")
	if !ok {
		return "", errors.New("assign_agent: no lead_id in context")
	}

	if err := d.deps.Assigner.AssignLead(ctx, leadID, agentID); err != nil {
		return "", fmt.Errorf("assign_agent: %w", err)
	}
	return fmt.Sprintf("lead %d assigned to agent %d", leadID, agentID), nil
}

func (d *ActionDispatcher) handleCreateTask(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Tasks == nil {
		return "", fmt.Errorf("create_task: %w", errNotConfigured)
	}

	title := substituteConfig(cfg, "title", inv.Context)
	if title == "" {
		return "", errors.New("create_task: title is required")
	}

	dueDays := int64(1)
	if _, present := cfg["due_days"]; present {
		n, ok := configInt(cfg, "due_days", inv.Context)
		if !ok || n < 0 {
			return "", errors.New("create_task: due_days must be a non-negative whole number")
		}
		dueDays = n
	}

	assigneeID, ok := configInt(cfg, "assignee_id", inv.Context)
	if !ok {
		var err error
		assigneeID, err = resolveRoleID(inv.Context, substituteConfig(cfg, "assignee", inv.Context))
		if err != nil {
			return "", fmt.Errorf("create_task: %w", err)
		}
	}

	task := db.ScheduledTaskInput{
		AssigneeID:  assigneeID,
		Title:       title,
		Description: substituteConfig(cfg, "description", inv.Context),
		DueAt:       inv.FiredAt.Add(time.Duration(dueDays) * 24 * time.Hour),
	}
	if leadID, ok := inv.Context.GetInt("lead_id"); ok {
		task.LeadID = &leadID
	}

	if _, err := d.deps.Tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("create_task: %w", err)
	}
	return fmt.Sprintf("task %q for user %d due %s", title, assigneeID, task.DueAt.Format(time.RFC3339)), nil
}

// TagMarker is the text add_tag writes into an entity's notes
func TagMarker(tag string) string {
	return "[tag:" + tag + "]"
}

func (d *ActionDispatcher) handleAddTag(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Entities == nil {
		return "", fmt.Errorf("add_tag: %w", errNotConfigured)
	}

	tag := strings.TrimSpace(substituteConfig(cfg, "tag", inv.Context))
	if tag == "" {
		return "", errors.New("add_tag: tag is required")
	}

	entityType, id, err := resolveEntity(cfg, inv.Context)
	if err != nil {
		return "", fmt.Errorf("add_tag: %w", err)
	}

	entity, err := d.deps.Entities.Find(ctx, entityType, id)
	if err != nil {
		return "", fmt.Errorf("add_tag: load %s %d: %w", entityType, id, err)
	}
	if entity == nil {
		return "", fmt.Errorf("add_tag: %s %d not found", entityType, id)
	}

	marker := TagMarker(tag)
	if strings.Contains(entity.Notes, marker) {
		return fmt.Sprintf("%s %d already tagged %q", entityType, id, tag), nil
	}

	notes := marker
	if entity.Notes != "" {
		notes = entity.Notes + "\n" + marker
	}
	if err := d.deps.Entities.UpdateNotes(ctx, entityType, id, notes); err != nil {
		return "", fmt.Errorf("add_tag: %w", err)
	}
	return fmt.Sprintf("%s %d tagged %q", entityType, id, tag), nil
}

// WebhookPayload is the body fire_webhook sends
type WebhookPayload struct {
	Event   string                 `json:"event"`
	Context map[string]interface{} `json:"context"`
	RuleID  int64                  `json:"rule_id"`
	FiredAt time.Time              `json:"fired_at"`
}

func (d *ActionDispatcher) handleFireWebhook(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Webhooks == nil {
		return "", fmt.Errorf("fire_webhook: %w", errNotConfigured)
	}

	url := strings.TrimSpace(substituteConfig(cfg, "url", inv.Context))
	if url == "" {
		return "", errors.New("fire_webhook: url is required")
	}

	status, err := d.deps.Webhooks.Post(ctx, url, WebhookPayload{
		Event:   inv.Event,
		Context: inv.Context.Snapshot(),
		RuleID:  inv.RuleID,
		FiredAt: inv.FiredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("fire_webhook: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("fire_webhook: %s returned status %d", url, status)
	}
	return fmt.Sprintf("webhook delivered (%d)", status), nil
}

func (d *ActionDispatcher) handleSendEmail(ctx context.Context, inv Invocation, cfg db.ActionConfig) (string, error) {
	if d.deps.Mailer == nil {
		return "", fmt.Errorf("send_email: %w", errNotConfigured)
	}

	subject := substituteConfig(cfg, "subject", inv.Context)
	if subject == "" {
		return "", errors.New("send_email: subject is required")
	}

	to, err := resolveEmailRecipient(substituteConfig(cfg, "to", inv.Context), inv.Context)
	if err != nil {
		return "", fmt.Errorf("send_email: %w", err)
	}

	body := substituteConfig(cfg, "body", inv.Context)
	if err := d.deps.Mailer.Send(ctx, to, subject, body); err != nil {
		return "", fmt.Errorf("send_email: %w", err)
	}
	return fmt.Sprintf("email sent to %s", to), nil
}

// resolveEmailRecipient accepts a literal address or a role keyword resolved
// through the "<role>_email" context value
func resolveEmailRecipient(to string, rc rulecontext.Context) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		to = RoleAgent
	}
	if strings.Contains(to, "@") {
		return to, nil
	}
	if !roleKeywords[to] {
		return "", fmt.Errorf("unknown recipient role: %s", to)
	}
	addr, ok := rc.GetString(to + "_email")
	if !ok || strings.TrimSpace(addr) == "" {
		return "", fmt.Errorf("no %s email in context", to)
	}
	return strings.TrimSpace(addr), nil
}
