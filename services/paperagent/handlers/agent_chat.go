// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the paper agent: the
// SSE streaming chat endpoint, session management, and health checks.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianScholar/services/llm"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/agent"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/observability"
	"github.com/AleutianAI/AleutianScholar/services/policy_engine"
)

// heartbeatInterval is how often keepalive pings are sent while the loop
// is between events. Below common load balancer idle timeouts (60s).
const heartbeatInterval = 15 * time.Second

// AgentChatHandler serves the streaming agent chat endpoint.
//
// # Description
//
// The handler validates the request, scans the outbound question through
// the policy engine, then runs the retrieval loop in a goroutine while
// relaying its events to the client as SSE. Request-level failures (bad
// body, policy violation) are returned as JSON before the stream opens;
// everything after the first SSE byte is reported in-stream.
//
// # Thread Safety
//
// Safe for concurrent requests. Per-session serialization happens inside
// the loop, not here.
type AgentChatHandler struct {
	controller   *agent.Controller
	policyEngine *policy_engine.PolicyEngine
	tracer       trace.Tracer
}

// NewAgentChatHandler creates the handler.
//
// # Limitations
//
//   - Panics on nil controller or policyEngine (programming errors).
func NewAgentChatHandler(controller *agent.Controller, policyEngine *policy_engine.PolicyEngine) *AgentChatHandler {
	if controller == nil {
		panic("NewAgentChatHandler: controller must not be nil")
	}
	if policyEngine == nil {
		panic("NewAgentChatHandler: policyEngine must not be nil")
	}
	return &AgentChatHandler{
		controller:   controller,
		policyEngine: policyEngine,
		tracer:       otel.Tracer("aleutian.paperagent.handlers"),
	}
}

// HandleAgentChatStream handles POST /v1/papers/:paperId/chat/agent/stream.
//
// # Description
//
// Flow:
//  1. Parse and validate the request body.
//  2. Scan the question for policy violations (outbound protection).
//  3. Pick the text-generation backend if a provider hint was given.
//  4. Open the SSE stream, start the keepalive goroutine.
//  5. Run the exchange and relay every event until done or error.
//
// # Outputs
//
//   - 200 with an SSE stream on the happy path.
//   - 400 Bad Request: malformed body or failed validation.
//   - 403 Forbidden: policy violation, findings included.
//   - 500 Internal Server Error: streaming unsupported by the connection.
//
// # Limitations
//
//   - Events written before a client disconnect cannot be unsent; the
//     exchange is cancelled and its history is not committed.
func (h *AgentChatHandler) HandleAgentChatStream(c *gin.Context) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAgentChatStream")
	defer span.End()

	m := observability.DefaultMetrics
	m.StreamStarted()
	defer m.StreamEnded()

	paperID := c.Param("paperId")
	if paperID == "" {
		m.RecordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "paperId is required"})
		return
	}
	span.SetAttributes(attribute.String("paper.id", paperID))

	var req datatypes.AgentChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse agent chat request", "error", err)
		m.RecordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		m.RecordError(observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	// Outbound protection: block questions carrying sensitive data
	// before they reach any model or index.
	findings := h.policyEngine.ScanText(req.Message)
	if len(findings) > 0 {
		span.SetAttributes(attribute.Int("policy.findings_count", len(findings)))
		slog.Warn("Blocked agent chat: question contains sensitive data",
			"findings_count", len(findings), "paperID", paperID)
		m.RecordError(observability.ErrorCodePolicyViolation)
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "Policy Violation: Message contains sensitive data.",
			"findings": findings,
		})
		return
	}

	controller := h.controller
	if req.Provider != "" {
		client, err := llm.NewClient(req.Provider)
		if err != nil {
			m.RecordError(observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
			return
		}
		controller = controller.WithLLM(client)
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err)
		m.RecordError(observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Cancelling streamCtx stops the loop; a disconnected client must not
	// keep burning model calls.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emitter := agent.NewEmitter()
	go controller.RunExchange(streamCtx, agent.ExchangeRequest{
		PaperID:   paperID,
		Question:  req.Message,
		SessionID: req.SessionID,
	}, emitter)

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go runHeartbeat(streamCtx, writer, heartbeatDone)

	firstEvent := true
	success := false
	for event := range emitter.Events() {
		if firstEvent {
			m.RecordTimeToFirstToken(time.Since(startTime))
			firstEvent = false
		}
		if err := writer.WriteEvent(event); err != nil {
			// Client went away. Cancel the loop and drain the channel so
			// the producer can exit.
			slog.Info("Client disconnected during agent stream",
				"paperID", paperID, "error", err)
			m.RecordClientDisconnect()
			m.RecordError(observability.ErrorCodeClientDisconnect)
			cancel()
			for range emitter.Events() {
			}
			return
		}
		switch event.Type {
		case datatypes.EventDone:
			success = true
		case datatypes.EventError:
			m.RecordError(observability.ErrorCodeLLMError)
		}
	}

	if success {
		span.SetAttributes(attribute.Bool("stream.success", true))
	} else {
		span.SetStatus(codes.Error, "exchange failed")
	}
	slog.Info("Agent stream finished",
		"paperID", paperID,
		"success", success,
		"duration", time.Since(startTime).String())
}

// runHeartbeat pings the client on an interval until the stream ends.
func runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			observability.DefaultMetrics.RecordKeepAlive()
		}
	}
}
