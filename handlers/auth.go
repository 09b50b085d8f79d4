package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
)

// APIKeyIssuer creates and revokes integration API keys
type APIKeyIssuer interface {
	CreateAPIKey(ctx context.Context, name string, agencyID *int64) (string, *db.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, agencyID *int64) error
}

type AuthHandler struct {
	Keys APIKeyIssuer
}

func NewAuthHandler(keys APIKeyIssuer) *AuthHandler {
	return &AuthHandler{Keys: keys}
}

// CreateAPIKeyRequest for issuing a key to an integration
type CreateAPIKeyRequest struct {
	Name     string `json:"name" binding:"required"`
	AgencyID *int64 `json:"agency_id,omitempty"`
}

// CreateAPIKey issues a key. The plaintext is only ever returned here.
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bound, ok := boundAgency(c); ok {
		req.AgencyID = bound
	}

	plaintext, key, err := h.Keys.CreateAPIKey(c.Request.Context(), req.Name, req.AgencyID)
	if err != nil {
		respondError(c, err, "Failed to create API key")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": key,
		"key":     plaintext,
		"message": "API key created successfully. Store it now, it will not be shown again",
	})
}

// RevokeAPIKey deactivates a key
func (h *AuthHandler) RevokeAPIKey(c *gin.Context) {
	scope, _ := boundAgency(c)

	err := h.Keys.RevokeAPIKey(c.Request.Context(), c.Param("id"), scope)
	if errors.Is(err, services.ErrAPIKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	if err != nil {
		respondError(c, err, "Failed to revoke API key")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}
