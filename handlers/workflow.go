package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
)

// TriggerFirer runs workflow rules for an announced event
type TriggerFirer interface {
	FireTrigger(ctx context.Context, event string, rc rulecontext.Context, scopeID *int64) ([]db.RuleOutcome, error)
}

type WorkflowHandler struct {
	Rules   services.RuleRepository
	Engine  TriggerFirer
	History services.ExecutionHistory
}

func NewWorkflowHandler(rules services.RuleRepository, engine TriggerFirer, history services.ExecutionHistory) *WorkflowHandler {
	return &WorkflowHandler{
		Rules:   rules,
		Engine:  engine,
		History: history,
	}
}

// WORKFLOW RULE ENDPOINTS

// ListWorkflowRules lists the rules visible to the caller
func (h *WorkflowHandler) ListWorkflowRules(c *gin.Context) {
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}

	rules, err := h.Rules.ListWorkflowRules(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err, "Failed to retrieve workflow rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflow_rules": rules,
		"total":          len(rules),
	})
}

// GetWorkflowRule retrieves a specific workflow rule
func (h *WorkflowHandler) GetWorkflowRule(c *gin.Context) {
	rule, ok := h.loadRule(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateWorkflowRule validates and stores a new workflow rule
func (h *WorkflowHandler) CreateWorkflowRule(c *gin.Context) {
	var req db.CreateWorkflowRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bound, ok := boundAgency(c); ok {
		req.AgencyID = bound
	}

	rule, err := h.Rules.CreateWorkflowRule(c.Request.Context(), services.WorkflowRuleFromRequest(req))
	if err != nil {
		respondError(c, err, "Failed to create workflow rule")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"workflow_rule": rule,
		"message":       "Workflow rule created successfully",
	})
}

// UpdateWorkflowRule applies a partial update
func (h *WorkflowHandler) UpdateWorkflowRule(c *gin.Context) {
	existing, ok := h.loadRule(c, true)
	if !ok {
		return
	}

	var req db.UpdateWorkflowRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.Rules.UpdateWorkflowRule(c.Request.Context(), existing.ID, req)
	if err != nil {
		respondError(c, err, "Failed to update workflow rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workflow_rule": rule,
		"message":       "Workflow rule updated successfully",
	})
}

// DeleteWorkflowRule removes a rule; its execution history stays
func (h *WorkflowHandler) DeleteWorkflowRule(c *gin.Context) {
	existing, ok := h.loadRule(c, true)
	if !ok {
		return
	}

	if err := h.Rules.DeleteWorkflowRule(c.Request.Context(), existing.ID); err != nil {
		respondError(c, err, "Failed to delete workflow rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Workflow rule deleted successfully"})
}

// ListRuleExecutions returns the audit trail of one rule
func (h *WorkflowHandler) ListRuleExecutions(c *gin.Context) {
	rule, ok := h.loadRule(c, false)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	filter := db.ExecutionFilter{
		RuleKind: db.RuleKindWorkflow,
		RuleID:   rule.ID,
		Status:   db.ExecutionStatus(c.Query("status")),
		Limit:    limit,
	}
	if bound, ok := boundAgency(c); ok {
		filter.AgencyID = bound
	}

	records, err := h.History.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to retrieve executions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": records,
		"total":      len(records),
	})
}

// TRIGGER ENDPOINT

// FireTrigger announces an event and runs every matching workflow rule synchronously
func (h *WorkflowHandler) FireTrigger(c *gin.Context) {
	event := c.Param("event")
	if event == db.TriggerLeadAssignment {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lead.assignment is handled by /routing/route"})
		return
	}

	var req db.FireTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := req.AgencyID
	if bound, ok := boundAgency(c); ok {
		scope = bound
	}

	outcomes, err := h.Engine.FireTrigger(c.Request.Context(), event, rulecontext.New(req.Context), scope)
	if err != nil {
		respondError(c, err, "Failed to fire trigger")
		return
	}

	matched := 0
	for _, o := range outcomes {
		if o.Matched {
			matched++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"event":    event,
		"outcomes": outcomes,
		"matched":  matched,
	})
}

// loadRule fetches the :id rule and enforces agency scoping.
// Rules the caller may not see are reported as missing.
func (h *WorkflowHandler) loadRule(c *gin.Context, write bool) (*db.WorkflowRule, bool) {
	id, ok := idParam(c)
	if !ok {
		return nil, false
	}

	rule, err := h.Rules.GetWorkflowRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to retrieve workflow rule")
		return nil, false
	}
	if !canAccess(c, rule.AgencyID, false) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return nil, false
	}
	if write && !canAccess(c, rule.AgencyID, true) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Global rules are read-only for agency credentials"})
		return nil, false
	}
	return rule, true
}
