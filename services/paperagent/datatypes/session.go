// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxHistoryMessages is the per-session history cap. When a commit would
// exceed it, the oldest messages are trimmed first.
const MaxHistoryMessages = 20

// Message is one turn of conversation. Within a session history, messages
// are ordered by Timestamp; on LLM wire payloads the timestamp is omitted.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Session is one conversation about one paper. PaperID is immutable for
// the session's lifetime; History holds at most MaxHistoryMessages entries.
type Session struct {
	SessionID string    `json:"session_id"`
	PaperID   string    `json:"paper_id"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	PaperID      string    `json:"paper_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
