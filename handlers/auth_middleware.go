package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coverdesk/automation/authz"
	"github.com/coverdesk/automation/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Keys set on the gin context by AuthMiddleware
const (
	contextSubject  = "subject"
	contextRole     = "role"
	contextAgencyID = "agency_id"
	contextAPIKeyID = "api_key_id"
)

const apiKeyHeader = "X-API-Key"

// AuthMiddleware guards the admin API with bearer JWTs or API keys
type AuthMiddleware struct {
	Auth *services.AuthService
}

func NewAuthMiddleware(auth *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{Auth: auth}
}

// RequireAuth accepts "Authorization: Bearer <jwt>" or "X-API-Key: <key>".
// An agency-bound credential pins every request to that agency.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(apiKeyHeader); key != "" {
			apiKey, err := m.Auth.ValidateAPIKey(c.Request.Context(), key)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				c.Abort()
				return
			}

			c.Set(contextSubject, "api_key:"+apiKey.Name)
			c.Set(contextRole, string(authz.RoleIntegration))
			c.Set(contextAPIKeyID, apiKey.ID)
			if apiKey.AgencyID != nil {
				c.Set(contextAgencyID, *apiKey.AgencyID)
			}

			// Update last used timestamp (async, don't block request)
			go func(id string) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := m.Auth.TouchAPIKey(ctx, id); err != nil {
					log.Warn().Err(err).Str("api_key_id", id).Msg("Failed to record API key use")
				}
			}(apiKey.ID)

			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, err := m.Auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		claims, err := m.Auth.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(contextSubject, claims.Subject)
		c.Set(contextRole, claims.Role)
		if claims.AgencyID != nil {
			c.Set(contextAgencyID, *claims.AgencyID)
		}

		c.Next()
	}
}

// RequirePermission rejects callers whose role does not allow action.
// An empty action is derived from the request method.
func RequirePermission(action authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		required := action
		if required == "" {
			required = authz.ActionForMethod(c.Request.Method)
		}

		role := authz.Role(c.GetString(contextRole))
		if !authz.Can(role, required) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			c.Abort()
			return
		}

		c.Next()
	}
}
