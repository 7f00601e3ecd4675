// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
)

func TestSSEParser_ParseLine(t *testing.T) {
	parser := NewSSEParser()

	t.Run("DataLineWithSpace", func(t *testing.T) {
		event, err := parser.ParseLine(`data: {"type":"content","content":"Hello"}`)
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event == nil {
			t.Fatal("expected an event, got nil")
		}
		if event.Type != StreamEventContent {
			t.Errorf("expected type %q, got %q", StreamEventContent, event.Type)
		}
		if event.Content != "Hello" {
			t.Errorf("expected content %q, got %q", "Hello", event.Content)
		}
	})

	t.Run("DataLineWithoutSpace", func(t *testing.T) {
		event, err := parser.ParseLine(`data:{"type":"done","session_id":"sess-1"}`)
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event == nil {
			t.Fatal("expected an event, got nil")
		}
		if event.Type != StreamEventDone {
			t.Errorf("expected type %q, got %q", StreamEventDone, event.Type)
		}
		if event.SessionID != "sess-1" {
			t.Errorf("expected session id %q, got %q", "sess-1", event.SessionID)
		}
	})

	t.Run("EmptyLineIsSkipped", func(t *testing.T) {
		event, err := parser.ParseLine("")
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event != nil {
			t.Errorf("expected nil event for empty line, got %+v", event)
		}
	})

	t.Run("CommentLineIsSkipped", func(t *testing.T) {
		event, err := parser.ParseLine(": keepalive")
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event != nil {
			t.Errorf("expected nil event for comment, got %+v", event)
		}
	})

	t.Run("EventNameLineIsSkipped", func(t *testing.T) {
		event, err := parser.ParseLine("event: content")
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event != nil {
			t.Errorf("expected nil event for event-name line, got %+v", event)
		}
	})

	t.Run("MalformedJSONReturnsError", func(t *testing.T) {
		_, err := parser.ParseLine(`data: {"type":`)
		if err == nil {
			t.Error("expected error for malformed JSON, got nil")
		}
	})

	t.Run("BarePlainTextBecomesContent", func(t *testing.T) {
		event, err := parser.ParseLine("some stray proxy text")
		if err != nil {
			t.Fatalf("ParseLine returned error: %v", err)
		}
		if event == nil {
			t.Fatal("expected an event, got nil")
		}
		if event.Type != StreamEventContent {
			t.Errorf("expected content fallback, got type %q", event.Type)
		}
		if event.Content != "some stray proxy text" {
			t.Errorf("unexpected content: %q", event.Content)
		}
	})
}

func TestSSEParser_PreservesServerMetadata(t *testing.T) {
	parser := NewSSEParser()

	line := `data: {"id":"ev-42","type":"sources","created_at":1757000000000,` +
		`"hash":"abc123","prev_hash":"def456",` +
		`"sources":[{"chunk_id":"c1","section":"Methods","score":0.91,"text_preview":"We train..."}]}`

	event, err := parser.ParseLine(line)
	if err != nil {
		t.Fatalf("ParseLine returned error: %v", err)
	}
	if event.Id != "ev-42" {
		t.Errorf("expected server id preserved, got %q", event.Id)
	}
	if event.CreatedAt != 1757000000000 {
		t.Errorf("expected server timestamp preserved, got %d", event.CreatedAt)
	}
	if event.Hash != "abc123" || event.PrevHash != "def456" {
		t.Errorf("expected hash fields preserved, got hash=%q prev=%q", event.Hash, event.PrevHash)
	}
	if len(event.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(event.Sources))
	}
	if event.Sources[0].ChunkID != "c1" || event.Sources[0].Section != "Methods" {
		t.Errorf("unexpected source: %+v", event.Sources[0])
	}
}

func TestSSEParser_RoundField(t *testing.T) {
	parser := NewSSEParser()

	event, err := parser.ParseLine(`data: {"type":"retrieval","round":2,"message":"Retrieval round 2"}`)
	if err != nil {
		t.Fatalf("ParseLine returned error: %v", err)
	}
	if event.Round != 2 {
		t.Errorf("expected round 2, got %d", event.Round)
	}
	if event.Type != StreamEventRetrieval {
		t.Errorf("expected type %q, got %q", StreamEventRetrieval, event.Type)
	}
}
