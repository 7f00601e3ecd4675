// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output for the Aleutian Scholar CLI:
// event parsing, stream rendering, hash chain verification, and styling.
package ux

// StreamEventType represents the type of streaming event
type StreamEventType string

const (
	// StreamEventThinking carries agent reasoning progress messages.
	StreamEventThinking StreamEventType = "thinking"

	// StreamEventRetrieval marks a retrieval round starting or finishing.
	StreamEventRetrieval StreamEventType = "retrieval"

	// StreamEventEvaluation carries a completeness verdict summary.
	StreamEventEvaluation StreamEventType = "evaluation"

	// StreamEventContent carries an answer text increment.
	StreamEventContent StreamEventType = "content"

	// StreamEventSources lists the evidence behind the answer.
	StreamEventSources StreamEventType = "sources"

	// StreamEventDone terminates a successful stream.
	StreamEventDone StreamEventType = "done"

	// StreamEventError terminates a failed stream.
	StreamEventError StreamEventType = "error"
)

// SourceInfo is one evidence citation attached to an answer.
type SourceInfo struct {
	ChunkID     string  `json:"chunk_id"`
	Section     string  `json:"section"`
	Score       float64 `json:"score"`
	TextPreview string  `json:"text_preview"`
}

// StreamEvent represents a single streaming event from the agent service.
//
// Content carries the textual payload of content and progress events;
// Message mirrors the progress text for typed access.
//
// Hash and PrevHash come from the server's integrity chain; they are
// preserved as received so the chain can be verified client side.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	Round     int             `json:"round,omitempty"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	Sources   []SourceInfo    `json:"sources,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt int64           `json:"created_at,omitempty"`
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`

	// Index is the client-side position in the stream, assigned by the
	// reader. Not part of the wire format.
	Index int `json:"-"`
}

// IsTerminal reports whether no further events follow this one.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventDone || e.Type == StreamEventError
}

// StreamResult contains the aggregated outcome of one agent exchange.
type StreamResult struct {
	Answer    string
	Sources   []SourceInfo
	SessionID string
	Error     string

	// Rounds is the highest retrieval round observed.
	Rounds int

	// Events holds every event in arrival order, for chain verification.
	Events []StreamEvent

	TotalEvents  int
	TotalTokens  int
	FirstTokenAt int64
	CompletedAt  int64
}
