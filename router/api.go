package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/coverdesk/automation/authz"
	"github.com/coverdesk/automation/handlers"
	"github.com/coverdesk/automation/services"
)

func NewGinRouter(pg *sql.DB, redis *redis.Client, engine *services.Engine) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(pg, redis)
	workflowHandler := handlers.NewWorkflowHandler(engine.Rules, engine.Workflow, engine.Executions)
	routingHandler := handlers.NewRoutingHandler(engine.Rules, engine.Routing)
	executionHandler := handlers.NewExecutionHandler(engine.Executions)
	authHandler := handlers.NewAuthHandler(engine.Auth)
	authMiddleware := handlers.NewAuthMiddleware(engine.Auth)

	// PUBLIC ENDPOINTS
	r.GET("/health", healthHandler.Health)

	// PROTECTED ENDPOINTS (bearer token or API key)
	api := r.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	{
		workflowRoutes := api.Group("/workflow-rules", handlers.RequirePermission(""))
		{
			workflowRoutes.GET("", workflowHandler.ListWorkflowRules)
			workflowRoutes.POST("", workflowHandler.CreateWorkflowRule)
			workflowRoutes.GET("/:id", workflowHandler.GetWorkflowRule)
			workflowRoutes.PUT("/:id", workflowHandler.UpdateWorkflowRule)
			workflowRoutes.DELETE("/:id", workflowHandler.DeleteWorkflowRule)
			workflowRoutes.GET("/:id/executions", workflowHandler.ListRuleExecutions)
		}

		api.POST("/triggers/:event", handlers.RequirePermission(authz.ActionExecute), workflowHandler.FireTrigger)

		routingRoutes := api.Group("/routing-rules", handlers.RequirePermission(""))
		{
			routingRoutes.GET("", routingHandler.ListRoutingRules)
			routingRoutes.POST("", routingHandler.CreateRoutingRule)
			routingRoutes.GET("/:id", routingHandler.GetRoutingRule)
			routingRoutes.PUT("/:id", routingHandler.UpdateRoutingRule)
			routingRoutes.DELETE("/:id", routingHandler.DeleteRoutingRule)
		}

		api.POST("/routing/route", handlers.RequirePermission(authz.ActionExecute), routingHandler.RouteLead)

		executionRoutes := api.Group("/executions", handlers.RequirePermission(authz.ActionView))
		{
			executionRoutes.GET("", executionHandler.ListExecutions)
			executionRoutes.GET("/:id", executionHandler.GetExecution)
		}

		apiKeyRoutes := api.Group("/api-keys", handlers.RequirePermission(""))
		{
			apiKeyRoutes.POST("", authHandler.CreateAPIKey)
			apiKeyRoutes.DELETE("/:id", authHandler.RevokeAPIKey)
		}
	}

	return r
}
