package handlers

import (
	"net/http"
	"strconv"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
)

type ExecutionHandler struct {
	History services.ExecutionHistory
}

func NewExecutionHandler(history services.ExecutionHistory) *ExecutionHandler {
	return &ExecutionHandler{History: history}
}

// ListExecutions returns the audit trail, newest first.
// Query: rule_kind, rule_id, status, limit
func (h *ExecutionHandler) ListExecutions(c *gin.Context) {
	filter := db.ExecutionFilter{
		RuleKind: db.RuleKind(c.Query("rule_kind")),
		Status:   db.ExecutionStatus(c.Query("status")),
	}

	switch filter.RuleKind {
	case "", db.RuleKindWorkflow, db.RuleKindRouting:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule_kind must be workflow or routing"})
		return
	}

	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule_id"})
			return
		}
		filter.RuleID = id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = limit
	}

	scope, ok := scopeFromRequest(c)
	if !ok {
		return
	}
	filter.AgencyID = scope

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

// GetExecution retrieves one execution record
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	rec, err := h.History.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve execution")
		return
	}
	if bound, ok := boundAgency(c); ok && (rec.AgencyID == nil || *rec.AgencyID != *bound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}
