package api

import (
	"github.com/ebpf-microsegment/connguard/pkg/api/handlers"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	b := s.backend
	healthHandler := handlers.NewHealthHandler(b.Stats, b.Policy, b.Info)
	ruleHandler := handlers.NewRuleHandler(b.Policy)
	commandHandler := handlers.NewCommandHandler(b.Policy)
	configHandler := handlers.NewConfigHandler(b.Policy)
	decisionHandler := handlers.NewDecisionHandler(b.Evaluator, b.NodeName)
	statsHandler := handlers.NewStatisticsHandler(b.Stats)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.GetHealth)
		v1.GET("/status", healthHandler.GetStatus)

		rules := v1.Group("/rules")
		{
			rules.POST("", ruleHandler.CreateRule)
			rules.GET("", ruleHandler.ListRules)
			rules.GET("/:id", ruleHandler.GetRule)
			rules.DELETE("/:id", ruleHandler.DeleteRule)
		}

		commands := v1.Group("/commands")
		{
			commands.POST("", commandHandler.AddCommand)
			commands.GET("", commandHandler.ListCommands)
			commands.DELETE("/:name", commandHandler.DeleteCommand)
		}

		config := v1.Group("/config")
		{
			config.GET("", configHandler.GetConfig)
			config.PUT("", configHandler.UpdateConfig)
		}

		v1.POST("/decisions", decisionHandler.Evaluate)
		v1.GET("/stats", statsHandler.GetAllStats)
	}
}
