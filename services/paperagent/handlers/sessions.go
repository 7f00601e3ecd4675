// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/session"
)

// CreateSession handles POST /v1/papers/:paperId/sessions.
//
// Creates an empty session bound to the paper and returns its id. The
// streaming endpoint also creates sessions implicitly when called without
// one; this exists for clients that want the id up front.
func CreateSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		paperID := c.Param("paperId")
		if paperID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "paperId is required"})
			return
		}

		id := store.Create(paperID)
		slog.Info("Created session", "sessionId", id, "paperId", paperID)
		c.JSON(http.StatusCreated, gin.H{
			"session_id": id,
			"paper_id":   paperID,
		})
	}
}

// ListSessions handles GET /v1/sessions.
func ListSessions(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": store.List()})
	}
}

// GetSessionHistory handles GET /v1/sessions/:sessionId/history.
func GetSessionHistory(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, ok := store.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.SessionID,
			"paper_id":   sess.PaperID,
			"messages":   sess.History,
		})
	}
}

// DeleteSession handles DELETE /v1/sessions/:sessionId. Deleting an
// unknown session succeeds; the end state is the same either way.
func DeleteSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		store.Delete(id)
		slog.Info("Deleted session", "sessionId", id)
		c.Status(http.StatusNoContent)
	}
}
