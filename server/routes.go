package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	custommiddleware "github.com/AkashInfoDev/helpdesk-back-end/middleware"
	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")

	protected := api.Group("")
	protected.Use(authMiddleware)

	// Session creation is throttled per user so one customer cannot flood
	// the pending queue.
	createLimit := custommiddleware.NewRateLimitMiddleware(s.limiterManager, custommiddleware.RateLimitConfig{
		Limit:   10,
		Window:  time.Minute,
		KeyFunc: userRateKey("chat:create"),
	})
	messageLimit := custommiddleware.NewRateLimitMiddleware(s.limiterManager, custommiddleware.RateLimitConfig{
		Limit:   60,
		Window:  time.Minute,
		KeyFunc: userRateKey("chat:send"),
	})

	agentOnly := custommiddleware.RequireRoles(models.RoleAgent)
	agentOrAdmin := custommiddleware.RequireRoles(models.RoleAgent, models.RoleAdmin)
	adminOnly := custommiddleware.RequireRoles(models.RoleAdmin)

	sessions := protected.Group("/sessions")
	{
		sessions.POST("", s.ChatHandler.CreateSession, createLimit)
		sessions.GET("/my", s.ChatHandler.MySessions)
		sessions.GET("", s.ChatHandler.AllSessions, adminOnly)
		sessions.GET("/queue", s.ChatHandler.PendingQueue, agentOrAdmin)
		sessions.GET("/queue/stats", s.ChatHandler.QueueStats, agentOrAdmin)
		sessions.POST("/auto-assign", s.ChatHandler.AutoAssign, adminOnly)
		sessions.GET("/:id", s.ChatHandler.GetSession)
		sessions.GET("/:id/messages", s.ChatHandler.GetMessages)
		sessions.POST("/:id/messages", s.ChatHandler.SendMessage, messageLimit)
		sessions.POST("/:id/accept", s.ChatHandler.Accept, agentOnly)
		sessions.POST("/:id/assign", s.ChatHandler.Assign, adminOnly)
		sessions.POST("/:id/transfer", s.ChatHandler.Transfer, agentOrAdmin)
		sessions.POST("/:id/end", s.ChatHandler.End)
	}

	agents := protected.Group("/agents", agentOrAdmin)
	{
		agents.GET("/me", s.AgentHandler.MyStatus, agentOnly)
		agents.PUT("/me/status", s.AgentHandler.UpdateMyStatus, agentOnly)
		agents.PUT("/me/skills", s.AgentHandler.UpdateSkills, agentOnly)
		agents.PUT("/me/capacity", s.AgentHandler.UpdateCapacity, agentOnly)
		agents.GET("/online", s.AgentHandler.ConnectedAgents)
		agents.GET("/workloads", s.ChatHandler.Workloads)
		agents.PUT("/:id/status", s.AgentHandler.UpdateStatus, adminOnly)
		agents.PUT("/:id/skills", s.AgentHandler.UpdateAgentSkills, adminOnly)
	}

	canned := protected.Group("/canned-responses", agentOrAdmin)
	{
		canned.POST("", s.CannedHandler.Create)
		canned.GET("", s.CannedHandler.List)
		canned.GET("/:id", s.CannedHandler.Get)
		canned.PUT("/:id", s.CannedHandler.Update)
		canned.DELETE("/:id", s.CannedHandler.Delete)
		canned.POST("/:id/render", s.CannedHandler.Render)
	}

	protected.GET("/chat/ws", s.ChatWebSocketHandler.HandleWebSocket)
}

func userRateKey(prefix string) func(c echo.Context) string {
	return func(c echo.Context) string {
		user, ok := c.Get("user").(*models.User)
		if !ok {
			return ""
		}
		return prefix + ":" + strconv.FormatUint(uint64(user.ID), 10)
	}
}
