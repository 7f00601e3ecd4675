// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/agent"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/handlers"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/session"
	"github.com/AleutianAI/AleutianScholar/services/policy_engine"
)

// SetupRoutes wires all HTTP endpoints on the router.
func SetupRoutes(router *gin.Engine, controller *agent.Controller, store *session.Store,
	policyEngine *policy_engine.PolicyEngine) {

	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewAgentChatHandler(controller, policyEngine)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		papers := v1.Group("/papers/:paperId")
		{
			papers.POST("/chat/agent/stream", chatHandler.HandleAgentChatStream)
			papers.POST("/sessions", handlers.CreateSession(store))
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
