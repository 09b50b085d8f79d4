package handlers

import (
	"context"
	"net/http"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
)

// LeadRouter picks a servicing agent for a lead
type LeadRouter interface {
	RouteLead(ctx context.Context, rc rulecontext.Context, agencyID int64) (*int64, error)
}

type RoutingHandler struct {
	Rules  services.RuleRepository
	Router LeadRouter
}

func NewRoutingHandler(rules services.RuleRepository, router LeadRouter) *RoutingHandler {
	return &RoutingHandler{
		Rules:  rules,
		Router: router,
	}
}

// ROUTING RULE ENDPOINTS

// ListRoutingRules lists routing rules visible to the caller
func (h *RoutingHandler) ListRoutingRules(c *gin.Context) {
	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}

	rules, err := h.Rules.ListRoutingRules(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err, "Failed to retrieve routing rules")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"routing_rules": rules,
		"total":         len(rules),
	})
}

// GetRoutingRule retrieves a specific routing rule
func (h *RoutingHandler) GetRoutingRule(c *gin.Context) {
	rule, ok := h.loadRule(c, false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRoutingRule validates and stores a routing rule
func (h *RoutingHandler) CreateRoutingRule(c *gin.Context) {
	var req db.CreateRoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bound, ok := boundAgency(c); ok {
		req.AgencyID = bound
	}

	rule, err := h.Rules.CreateRoutingRule(c.Request.Context(), services.RoutingRuleFromRequest(req))
	if err != nil {
		respondError(c, err, "Failed to create routing rule")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"routing_rule": rule,
		"message":      "Routing rule created successfully",
	})
}

// UpdateRoutingRule applies a partial update
func (h *RoutingHandler) UpdateRoutingRule(c *gin.Context) {
	existing, ok := h.loadRule(c, true)
	if !ok {
		return
	}

	var req db.UpdateRoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.Rules.UpdateRoutingRule(c.Request.Context(), existing.ID, req)
	if err != nil {
		respondError(c, err, "Failed to update routing rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"routing_rule": rule,
		"message":      "Routing rule updated successfully",
	})
}

// DeleteRoutingRule removes a routing rule
func (h *RoutingHandler) DeleteRoutingRule(c *gin.Context) {
	existing, ok := h.loadRule(c, true)
	if !ok {
		return
	}

	if err := h.Rules.DeleteRoutingRule(c.Request.Context(), existing.ID); err != nil {
		respondError(c, err, "Failed to delete routing rule")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Routing rule deleted successfully"})
}

// ROUTING ENGINE ENDPOINT

// RouteLead resolves the agent a new lead should go to
func (h *RoutingHandler) RouteLead(c *gin.Context) {
	var req db.RouteLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bound, ok := boundAgency(c); ok && *bound != req.AgencyID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Credentials are bound to another agency"})
		return
	}

	agentID, err := h.Router.RouteLead(c.Request.Context(), rulecontext.New(req.Context), req.AgencyID)
	if err != nil {
		respondError(c, err, "Failed to route lead")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agency_id": req.AgencyID,
		"agent_id":  agentID,
		"assigned":  agentID != nil,
	})
}

func (h *RoutingHandler) loadRule(c *gin.Context, write bool) (*db.RoutingRule, bool) {
	id, ok := idParam(c)
	if !ok {
		return nil, false
	}

	rule, err := h.Rules.GetRoutingRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to retrieve routing rule")
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
