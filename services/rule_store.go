package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/lib/pq"
)

// RuleStore loads candidate rules for the orchestrators. Candidates are active,
// belong to the scope (global rules plus the agency's own) and come back
// ordered by priority DESC with insertion order breaking ties.
type RuleStore interface {
	WorkflowCandidates(ctx context.Context, trigger string, scopeID *int64) ([]db.WorkflowRule, error)
	RoutingCandidates(ctx context.Context, scopeID int64) ([]db.RoutingRule, error)
}

// RuleRepository adds rule management on top of candidate loading
type RuleRepository interface {
	RuleStore

	CreateWorkflowRule(ctx context.Context, rule db.WorkflowRule) (*db.WorkflowRule, error)
	GetWorkflowRule(ctx context.Context, id int64) (*db.WorkflowRule, error)
	ListWorkflowRules(ctx context.Context, scopeID *int64) ([]db.WorkflowRule, error)
	UpdateWorkflowRule(ctx context.Context, id int64, req db.UpdateWorkflowRuleRequest) (*db.WorkflowRule, error)
	DeleteWorkflowRule(ctx context.Context, id int64) error

	CreateRoutingRule(ctx context.Context, rule db.RoutingRule) (*db.RoutingRule, error)
	GetRoutingRule(ctx context.Context, id int64) (*db.RoutingRule, error)
	ListRoutingRules(ctx context.Context, scopeID *int64) ([]db.RoutingRule, error)
	UpdateRoutingRule(ctx context.Context, id int64, req db.UpdateRoutingRuleRequest) (*db.RoutingRule, error)
	DeleteRoutingRule(ctx context.Context, id int64) error
}

// WorkflowRuleFromRequest builds an unsaved rule from an API or file request
func WorkflowRuleFromRequest(req db.CreateWorkflowRuleRequest) db.WorkflowRule {
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return db.WorkflowRule{
		AgencyID:     req.AgencyID,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		TriggerEvent: strings.TrimSpace(req.TriggerEvent),
		IsActive:     isActive,
		Priority:     req.Priority,
		Conditions:   req.Conditions,
		Actions:      req.Actions,
	}
}

// RoutingRuleFromRequest builds an unsaved routing rule from a request
func RoutingRuleFromRequest(req db.CreateRoutingRuleRequest) db.RoutingRule {
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return db.RoutingRule{
		AgencyID:   req.AgencyID,
		Name:       strings.TrimSpace(req.Name),
		IsActive:   isActive,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Strategy:   req.Strategy,
	}
}

func applyWorkflowUpdate(rule *db.WorkflowRule, req db.UpdateWorkflowRuleRequest) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.TriggerEvent != nil {
		rule.TriggerEvent = strings.TrimSpace(*req.TriggerEvent)
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}
}

func applyRoutingUpdate(rule *db.RoutingRule, req db.UpdateRoutingRuleRequest) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Strategy != nil {
		rule.Strategy = *req.Strategy
	}
}

// RuleService is the Postgres rule store
type RuleService struct {
	PG *sql.DB
}

func NewRuleService(pg *sql.DB) *RuleService {
	return &RuleService{PG: pg}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// WORKFLOW RULES

const workflowRuleColumns = `id, agency_id, name, description, trigger_event, is_active, priority,
	conditions, actions, execution_count, last_executed_at, created_at, updated_at`

func scanWorkflowRule(row rowScanner) (*db.WorkflowRule, error) {
	var rule db.WorkflowRule
	var agencyID sql.NullInt64
	var lastExecutedAt sql.NullTime
	var conditionsJSON, actionsJSON []byte

	err := row.Scan(
		&rule.ID, &agencyID, &rule.Name, &rule.Description, &rule.TriggerEvent, &rule.IsActive, &rule.Priority,
		&conditionsJSON, &actionsJSON, &rule.ExecutionCount, &lastExecutedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if agencyID.Valid {
		rule.AgencyID = &agencyID.Int64
	}
	if lastExecutedAt.Valid {
		rule.LastExecutedAt = &lastExecutedAt.Time
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("rule %d: decode conditions: %w", rule.ID, err)
		}
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
			return nil, fmt.Errorf("rule %d: decode actions: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

func (s *RuleService) queryWorkflowRules(ctx context.Context, query string, args ...interface{}) ([]db.WorkflowRule, error) {
	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []db.WorkflowRule{}
	for rows.Next() {
		rule, err := scanWorkflowRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// WorkflowCandidates loads active rules for a trigger within a scope
func (s *RuleService) WorkflowCandidates(ctx context.Context, trigger string, scopeID *int64) ([]db.WorkflowRule, error) {
	query := `SELECT ` + workflowRuleColumns + `
		FROM workflow_rules
		WHERE is_active = true
		  AND trigger_event = $1
		  AND (agency_id IS NULL OR agency_id = $2)
		ORDER BY priority DESC, id ASC`

	rules, err := s.queryWorkflowRules(ctx, query, trigger, nullableID(scopeID))
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow rules for %s: %w", trigger, err)
	}
	return rules, nil
}

// ListWorkflowRules lists every rule visible to the scope, active or not.
// A nil scope lists all rules.
func (s *RuleService) ListWorkflowRules(ctx context.Context, scopeID *int64) ([]db.WorkflowRule, error) {
	query := `SELECT ` + workflowRuleColumns + ` FROM workflow_rules`
	args := []interface{}{}

	if scopeID != nil {
		query += " WHERE agency_id IS NULL OR agency_id = $1"
		args = append(args, *scopeID)
	}
	query += " ORDER BY priority DESC, id ASC"

	return s.queryWorkflowRules(ctx, query, args...)
}

// GetWorkflowRule retrieves a rule by id
func (s *RuleService) GetWorkflowRule(ctx context.Context, id int64) (*db.WorkflowRule, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+workflowRuleColumns+` FROM workflow_rules WHERE id = $1`, id)
	rule, err := scanWorkflowRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateWorkflowRule validates and inserts a rule
func (s *RuleService) CreateWorkflowRule(ctx context.Context, rule db.WorkflowRule) (*db.WorkflowRule, error) {
	if err := ValidateWorkflowRule(rule); err != nil {
		return nil, err
	}

	conditionsJSON, actionsJSON, err := marshalWorkflowBody(rule)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var id int64
	err = s.PG.QueryRowContext(ctx, `
		INSERT INTO workflow_rules
		(agency_id, name, description, trigger_event, is_active, priority, conditions, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, nullableID(rule.AgencyID), rule.Name, rule.Description, rule.TriggerEvent, rule.IsActive, rule.Priority,
		conditionsJSON, actionsJSON, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow rule: %w", err)
	}

	return s.GetWorkflowRule(ctx, id)
}

// UpdateWorkflowRule applies a partial update; the merged rule is validated before writing
func (s *RuleService) UpdateWorkflowRule(ctx context.Context, id int64, req db.UpdateWorkflowRuleRequest) (*db.WorkflowRule, error) {
	rule, err := s.GetWorkflowRule(ctx, id)
	if err != nil {
		return nil, err
	}
	applyWorkflowUpdate(rule, req)
	if err := ValidateWorkflowRule(*rule); err != nil {
		return nil, err
	}

	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	add := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if req.Name != nil {
		add("name", rule.Name)
	}
	if req.Description != nil {
		add("description", rule.Description)
	}
	if req.TriggerEvent != nil {
		add("trigger_event", rule.TriggerEvent)
	}
	if req.IsActive != nil {
		add("is_active", rule.IsActive)
	}
	if req.Priority != nil {
		add("priority", rule.Priority)
	}
	if req.Conditions != nil || req.Actions != nil {
		conditionsJSON, actionsJSON, err := marshalWorkflowBody(*rule)
		if err != nil {
			return nil, err
		}
		add("conditions", conditionsJSON)
		add("actions", actionsJSON)
	}

	if len(setParts) == 0 {
		return rule, nil
	}

	add("updated_at", time.Now())
	query := fmt.Sprintf("UPDATE workflow_rules SET %s WHERE id = $%d", strings.Join(setParts, ", "), argIndex)
	args = append(args, id)

	if _, err := s.PG.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update workflow rule %d: %w", id, err)
	}
	return s.GetWorkflowRule(ctx, id)
}

// DeleteWorkflowRule removes a rule. Its execution history is kept.
func (s *RuleService) DeleteWorkflowRule(ctx context.Context, id int64) error {
	return s.deleteRule(ctx, "workflow_rules", id)
}

// ROUTING RULES

const routingRuleColumns = `id, agency_id, name, is_active, priority, conditions,
	strategy_type, agent_id, agent_pool, execution_count, last_executed_at, created_at, updated_at`

func scanRoutingRule(row rowScanner) (*db.RoutingRule, error) {
	var rule db.RoutingRule
	var agencyID, agentID sql.NullInt64
	var lastExecutedAt sql.NullTime
	var conditionsJSON []byte
	var strategyType string
	var pool []int64

	err := row.Scan(
		&rule.ID, &agencyID, &rule.Name, &rule.IsActive, &rule.Priority, &conditionsJSON,
		&strategyType, &agentID, pq.Array(&pool), &rule.ExecutionCount, &lastExecutedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if agencyID.Valid {
		rule.AgencyID = &agencyID.Int64
	}
	if lastExecutedAt.Valid {
		rule.LastExecutedAt = &lastExecutedAt.Time
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("routing rule %d: decode conditions: %w", rule.ID, err)
		}
	}

	rule.Strategy = db.AssignmentStrategy{Type: db.StrategyType(strategyType), AgentPool: pool}
	if agentID.Valid {
		rule.Strategy.AgentID = &agentID.Int64
	}
	return &rule, nil
}

func (s *RuleService) queryRoutingRules(ctx context.Context, query string, args ...interface{}) ([]db.RoutingRule, error) {
	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []db.RoutingRule{}
	for rows.Next() {
		rule, err := scanRoutingRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// RoutingCandidates loads active routing rules for an agency, global rules included
func (s *RuleService) RoutingCandidates(ctx context.Context, scopeID int64) ([]db.RoutingRule, error) {
	query := `SELECT ` + routingRuleColumns + `
		FROM lead_routing_rules
		WHERE is_active = true
		  AND (agency_id IS NULL OR agency_id = $1)
		ORDER BY priority DESC, id ASC`

	rules, err := s.queryRoutingRules(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing rules for agency %d: %w", scopeID, err)
	}
	return rules, nil
}

// ListRoutingRules lists every routing rule visible to the scope
func (s *RuleService) ListRoutingRules(ctx context.Context, scopeID *int64) ([]db.RoutingRule, error) {
	query := `SELECT ` + routingRuleColumns + ` FROM lead_routing_rules`
	args := []interface{}{}

	if scopeID != nil {
		query += " WHERE agency_id IS NULL OR agency_id = $1"
		args = append(args, *scopeID)
	}
	query += " ORDER BY priority DESC, id ASC"

	return s.queryRoutingRules(ctx, query, args...)
}

// GetRoutingRule retrieves a routing rule by id
func (s *RuleService) GetRoutingRule(ctx context.Context, id int64) (*db.RoutingRule, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+routingRuleColumns+` FROM lead_routing_rules WHERE id = $1`, id)
	rule, err := scanRoutingRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateRoutingRule validates and inserts a routing rule
func (s *RuleService) CreateRoutingRule(ctx context.Context, rule db.RoutingRule) (*db.RoutingRule, error) {
	if err := ValidateRoutingRule(rule); err != nil {
		return nil, err
	}

	conditionsJSON, err := marshalConditions(rule.Conditions)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var id int64
	err = s.PG.QueryRowContext(ctx, `
		INSERT INTO lead_routing_rules
		(agency_id, name, is_active, priority, conditions, strategy_type, agent_id, agent_pool, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, nullableID(rule.AgencyID), rule.Name, rule.IsActive, rule.Priority, conditionsJSON,
		string(rule.Strategy.Type), nullableID(rule.Strategy.AgentID), agentPoolArray(rule.Strategy.AgentPool), now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert routing rule: %w", err)
	}

	return s.GetRoutingRule(ctx, id)
}

// UpdateRoutingRule applies a partial update to a routing rule
func (s *RuleService) UpdateRoutingRule(ctx context.Context, id int64, req db.UpdateRoutingRuleRequest) (*db.RoutingRule, error) {
	rule, err := s.GetRoutingRule(ctx, id)
	if err != nil {
		return nil, err
	}
	applyRoutingUpdate(rule, req)
	if err := ValidateRoutingRule(*rule); err != nil {
		return nil, err
	}

	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	add := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if req.Name != nil {
		add("name", rule.Name)
	}
	if req.IsActive != nil {
		add("is_active", rule.IsActive)
	}
	if req.Priority != nil {
		add("priority", rule.Priority)
	}
	if req.Conditions != nil {
		conditionsJSON, err := marshalConditions(rule.Conditions)
		if err != nil {
			return nil, err
		}
		add("conditions", conditionsJSON)
	}
	if req.Strategy != nil {
		add("strategy_type", string(rule.Strategy.Type))
		add("agent_id", nullableID(rule.Strategy.AgentID))
		add("agent_pool", agentPoolArray(rule.Strategy.AgentPool))
	}

	if len(setParts) == 0 {
		return rule, nil
	}

	add("updated_at", time.Now())
	query := fmt.Sprintf("UPDATE lead_routing_rules SET %s WHERE id = $%d", strings.Join(setParts, ", "), argIndex)
	args = append(args, id)

	if _, err := s.PG.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update routing rule %d: %w", id, err)
	}
	return s.GetRoutingRule(ctx, id)
}

// DeleteRoutingRule removes a routing rule
func (s *RuleService) DeleteRoutingRule(ctx context.Context, id int64) error {
	return s.deleteRule(ctx, "lead_routing_rules", id)
}

// INTERNAL HELPERS

func (s *RuleService) deleteRule(ctx context.Context, table string, id int64) error {
	result, err := s.PG.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func marshalConditions(conditions []db.Condition) ([]byte, error) {
	if conditions == nil {
		conditions = []db.Condition{}
	}
	data, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	return data, nil
}

func marshalWorkflowBody(rule db.WorkflowRule) ([]byte, []byte, error) {
	conditionsJSON, err := marshalConditions(rule.Conditions)
	if err != nil {
		return nil, nil, err
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid actions: %w", err)
	}
	return conditionsJSON, actionsJSON, nil
}

// nullableID converts an optional id into a SQL parameter
// agentPoolArray binds a pool for the NOT NULL agent_pool column; pq sends a nil slice as NULL
func agentPoolArray(pool []int64) interface{} {
	if pool == nil {
		pool = []int64{}
	}
	return pq.Array(pool)
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
