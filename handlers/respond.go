package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// respondError maps service errors onto HTTP statuses. Unexpected errors are
// logged and answered with fallback so internals never leak to clients.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
	case errors.Is(err, services.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
	case errors.Is(err, services.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "Invalid rule",
			"problems": services.ValidationProblems(err),
		})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// idParam parses the :id path parameter
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// scopeFromRequest returns the agency scope of the request. Agency-bound
// credentials always win over the agency_id query parameter.
func scopeFromRequest(c *gin.Context) (*int64, bool) {
	if scope, ok := boundAgency(c); ok {
		return scope, true
	}
	raw := c.Query("agency_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agency_id"})
		return nil, false
	}
	return &id, true
}

// boundAgency reports the agency the caller's credentials are bound to
func boundAgency(c *gin.Context) (*int64, bool) {
	v, exists := c.Get(contextAgencyID)
	if !exists {
		return nil, false
	}
	id, ok := v.(int64)
	if !ok {
		return nil, false
	}
	return &id, true
}

// canAccess reports whether the caller may see (or, with write, change) a rule
// owned by agencyID. Agency-bound callers can read global rules but not change them.
func canAccess(c *gin.Context, agencyID *int64, write bool) bool {
	bound, ok := boundAgency(c)
	if !ok {
		return true
	}
	if agencyID == nil {
		return !write
	}
	return *agencyID == *bound
}
