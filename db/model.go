package db

import (
	"time"
)

// RULES

// RuleKind distinguishes the two rule tables that share the dispatch core
type RuleKind string

const (
	RuleKindWorkflow RuleKind = "workflow"
	RuleKindRouting  RuleKind = "routing"
)

// TriggerLeadAssignment is the implicit trigger of every routing rule
const TriggerLeadAssignment = "lead.assignment"

// Well-known domain events announced by business operations
const (
	TriggerLeadCreated          = "lead.created"
	TriggerLeadStatusChanged    = "lead.status_changed"
	TriggerApplicationSubmitted = "application.submitted"
	TriggerPolicyIssued         = "policy.issued"
	TriggerClaimFiled           = "claim.filed"
)

// WorkflowRule fires its actions when TriggerEvent is announced and all conditions match
type WorkflowRule struct {
	ID             int64       `json:"id"`
	AgencyID       *int64      `json:"agency_id,omitempty"` // nil = global rule
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	TriggerEvent   string      `json:"trigger_event"`
	IsActive       bool        `json:"is_active"`
	Priority       int         `json:"priority"` // Higher number = evaluated first
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
	ExecutionCount int         `json:"execution_count"`
	LastExecutedAt *time.Time  `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RoutingRule picks a servicing agent for a new lead
type RoutingRule struct {
	ID             int64              `json:"id"`
	AgencyID       *int64             `json:"agency_id,omitempty"`
	Name           string             `json:"name"`
	IsActive       bool               `json:"is_active"`
	Priority       int                `json:"priority"`
	Conditions     []Condition        `json:"conditions"`
	Strategy       AssignmentStrategy `json:"strategy"`
	ExecutionCount int                `json:"execution_count"`
	LastExecutedAt *time.Time         `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ConditionOperator is the comparison applied between a context field and a rule value
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorNotContains ConditionOperator = "not_contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorIn          ConditionOperator = "in"
	OperatorNotIn       ConditionOperator = "not_in"
	OperatorIsEmpty     ConditionOperator = "is_empty"
	OperatorIsNotEmpty  ConditionOperator = "is_not_empty"
)

// Condition is one clause of a rule; all clauses of a rule are ANDed
type Condition struct {
	Field    string            `json:"field" yaml:"field"` // dotted path into the context
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsValidOperator reports whether op is one of the supported operators
func IsValidOperator(op ConditionOperator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn,
		OperatorIsEmpty, OperatorIsNotEmpty:
		return true
	}
	return false
}

// ActionType selects the handler in the dispatch table
type ActionType string

const (
	ActionNotify       ActionType = "notify"
	ActionUpdateStatus ActionType = "update_status"
	ActionAssignAgent  ActionType = "assign_agent"
	ActionCreateTask   ActionType = "create_task"
	ActionAddTag       ActionType = "add_tag"
	ActionFireWebhook  ActionType = "fire_webhook"
	ActionSendEmail    ActionType = "send_email"
)

// ActionTypes lists every action type in display order
var ActionTypes = []ActionType{
	ActionNotify,
	ActionUpdateStatus,
	ActionAssignAgent,
	ActionCreateTask,
	ActionAddTag,
	ActionFireWebhook,
	ActionSendEmail,
}

// ActionConfig is the static, per-action configuration; string values may carry {{placeholders}}
type ActionConfig map[string]interface{}

// Action is one effect of a workflow rule
type Action struct {
	Type   ActionType   `json:"type" yaml:"type"`
	Config ActionConfig `json:"config" yaml:"config"`
}

// StrategyType names an agent assignment strategy for routing rules
type StrategyType string

const (
	StrategyFixedAgent  StrategyType = "fixed_agent"
	StrategyRoundRobin  StrategyType = "round_robin"
	StrategyLeastLoaded StrategyType = "least_loaded"
)

// AssignmentStrategy resolves a routing rule to a single agent (or none)
type AssignmentStrategy struct {
	Type      StrategyType `json:"type" yaml:"type"`
	AgentID   *int64       `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`     // fixed_agent
	AgentPool []int64      `json:"agent_pool,omitempty" yaml:"agent_pool,omitempty"` // round_robin, least_loaded
}

// EXECUTION AUDIT

// ExecutionStatus is the lifecycle state of an execution record
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionStatus is the outcome of a single action or assignment step
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailed  ActionStatus = "failed"
)

// ActionResult is one row of an execution's action_results
type ActionResult struct {
	Type    string       `json:"type"`
	Status  ActionStatus `json:"status"`
	Message string       `json:"message"`
}

// Succeeded reports whether the step succeeded
func (r ActionResult) Succeeded() bool {
	return r.Status == ActionStatusSuccess
}

// ExecutionRecord is the audit row written once per rule invocation
type ExecutionRecord struct {
	ID             string                 `json:"id"`
	RuleKind       RuleKind               `json:"rule_kind"`
	RuleID         int64                  `json:"rule_id"`
	AgencyID       *int64                 `json:"agency_id,omitempty"`
	TriggerEvent   string                 `json:"trigger_event"`
	TriggerContext map[string]interface{} `json:"trigger_context"`
	Status         ExecutionStatus        `json:"status"`
	ActionResults  []ActionResult         `json:"action_results"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	DurationMs     int                    `json:"duration_ms"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`

	// For API responses
	RuleName string `json:"rule_name,omitempty"`
}

// ExecutionFilter narrows execution history queries
type ExecutionFilter struct {
	RuleKind RuleKind
	RuleID   int64
	AgencyID *int64
	Status   ExecutionStatus
	Limit    int
}

// OutcomeStatus summarizes what happened to one candidate rule during a pass
type OutcomeStatus string

const (
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// RuleOutcome is returned to callers of FireTrigger for every candidate rule
type RuleOutcome struct {
	RuleID        int64          `json:"rule_id"`
	RuleName      string         `json:"rule_name"`
	Matched       bool           `json:"matched"`
	Status        OutcomeStatus  `json:"status"`
	ExecutionID   string         `json:"execution_id,omitempty"`
	ActionResults []ActionResult `json:"action_results,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// DomainEvent is the queued form of a trigger announcement
type DomainEvent struct {
	Event      string                 `json:"event"`
	AgencyID   *int64                 `json:"agency_id,omitempty"`
	Context    map[string]interface{} `json:"context"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Request/Response DTOs for Workflow Rules

// CreateWorkflowRuleRequest for creating a new workflow rule
type CreateWorkflowRuleRequest struct {
	AgencyID     *int64      `json:"agency_id,omitempty" yaml:"agency_id,omitempty"`
	Name         string      `json:"name" yaml:"name" binding:"required"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerEvent string      `json:"trigger_event" yaml:"trigger" binding:"required"`
	IsActive     *bool       `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Priority     int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	Conditions   []Condition `json:"conditions" yaml:"conditions"`
	Actions      []Action    `json:"actions" yaml:"actions" binding:"required"`
}

// UpdateWorkflowRuleRequest for updating a workflow rule
type UpdateWorkflowRuleRequest struct {
	Name         *string     `json:"name,omitempty"`
	Description  *string     `json:"description,omitempty"`
	TriggerEvent *string     `json:"trigger_event,omitempty"`
	IsActive     *bool       `json:"is_active,omitempty"`
	Priority     *int        `json:"priority,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
	Actions      []Action    `json:"actions,omitempty"`
}

// Request/Response DTOs for Routing Rules

// CreateRoutingRuleRequest for creating a new routing rule
type CreateRoutingRuleRequest struct {
	AgencyID   *int64             `json:"agency_id,omitempty" yaml:"agency_id,omitempty"`
	Name       string             `json:"name" yaml:"name" binding:"required"`
	IsActive   *bool              `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Priority   int                `json:"priority,omitempty" yaml:"priority,omitempty"`
	Conditions []Condition        `json:"conditions" yaml:"conditions"`
	Strategy   AssignmentStrategy `json:"strategy" yaml:"strategy" binding:"required"`
}

// UpdateRoutingRuleRequest for updating a routing rule
type UpdateRoutingRuleRequest struct {
	Name       *string             `json:"name,omitempty"`
	IsActive   *bool               `json:"is_active,omitempty"`
	Priority   *int                `json:"priority,omitempty"`
	Conditions []Condition         `json:"conditions,omitempty"`
	Strategy   *AssignmentStrategy `json:"strategy,omitempty"`
}

// FireTriggerRequest for announcing an event through the admin API
type FireTriggerRequest struct {
	AgencyID *int64                 `json:"agency_id,omitempty"`
	Context  map[string]interface{} `json:"context" binding:"required"`
}

// RouteLeadRequest for resolving an agent through the admin API
type RouteLeadRequest struct {
	AgencyID int64                  `json:"agency_id" binding:"required"`
	Context  map[string]interface{} `json:"context" binding:"required"`
}
