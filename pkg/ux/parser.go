// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains parsers for streaming response formats.
// Parsers are responsible for converting raw bytes/lines into StreamEvent structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state management.
//	This separation enables easy testing and format extensibility.

package ux

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events format into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	data: {"type":"content","content":"Hello"}\n
//	\n
//
// Each line starting with "data: " contains a JSON payload. Empty lines
// are event delimiters and lines starting with ":" are comments; both are
// ignored. Server-assigned metadata (id, created_at, hash, prev_hash) is
// preserved verbatim so the integrity chain stays verifiable.
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
type SSEParser interface {
	// ParseLine parses a single line of SSE input. Returns nil, nil for
	// empty lines, comments, and "event:" framing lines.
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload without the "data: " prefix.
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser is stateless and safe for concurrent use.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (keepalive pings arrive this way)
//   - Event name ("event: ..."): Returns nil (the type is inside the data payload)
//   - Data (starts with "data: "): Parses JSON after prefix
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}
	if strings.HasPrefix(line, "event:") {
		return nil, nil
	}

	if strings.HasPrefix(line, "data: ") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data: ")))
	}
	// Some servers omit the space after the colon
	if strings.HasPrefix(line, "data:") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data:")))
	}

	// Non-JSON line from a misbehaving proxy; treat as raw content
	return &StreamEvent{
		Type:    StreamEventContent,
		Content: line,
	}, nil
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// Example JSON:
//
//	{"type":"retrieval","round":1,"message":"Retrieval round 1 (keywords: attention)"}
//	{"type":"content","content":"The model"}
//	{"type":"done","session_id":"sess-123"}
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
