// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"
)

func machineEvents() []StreamEvent {
	return []StreamEvent{
		{Type: StreamEventThinking, Content: "Analyzing question intent...", Message: "Analyzing question intent..."},
		{Type: StreamEventRetrieval, Round: 1, Content: "Retrieval round 1 (keywords: attention)", Message: "Retrieval round 1 (keywords: attention)"},
		{Type: StreamEventEvaluation, Content: "Evaluation: information is sufficient", Message: "Evaluation: information is sufficient"},
		{Type: StreamEventContent, Content: "The model "},
		{Type: StreamEventContent, Content: "uses attention."},
		{Type: StreamEventSources, Sources: []SourceInfo{
			{ChunkID: "c1", Section: "Methods", Score: 0.9, TextPreview: "We..."},
		}},
		{Type: StreamEventDone, SessionID: "sess-1"},
	}
}

func TestStreamProcessor_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	processor := NewStreamProcessorWithWriter(&buf, PersonalityMachine)

	result, err := processor.Process(machineEvents())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "PROGRESS: Analyzing question intent...") {
		t.Errorf("missing thinking progress line: %q", out)
	}
	if !strings.Contains(out, "PROGRESS: [round 1] Retrieval round 1") {
		t.Errorf("missing retrieval progress line: %q", out)
	}
	if !strings.Contains(out, "EVALUATION: Evaluation: information is sufficient") {
		t.Errorf("missing evaluation line: %q", out)
	}
	// Machine mode buffers tokens and prints the answer once at the end.
	if !strings.Contains(out, "ANSWER: The model uses attention.") {
		t.Errorf("missing buffered answer line: %q", out)
	}

	if result.Answer != "The model uses attention." {
		t.Errorf("unexpected aggregated answer: %q", result.Answer)
	}
	if result.SessionID != "sess-1" {
		t.Errorf("unexpected session id: %q", result.SessionID)
	}
	if len(result.Sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(result.Sources))
	}
	if result.Rounds != 1 {
		t.Errorf("expected 1 round, got %d", result.Rounds)
	}
}

func TestStreamProcessor_MessageOnlyProgressStillRenders(t *testing.T) {
	var buf bytes.Buffer
	processor := NewStreamProcessorWithWriter(&buf, PersonalityMachine)

	events := []StreamEvent{
		{Type: StreamEventThinking, Message: "Analyzing question intent..."},
		{Type: StreamEventEvaluation, Message: "Evaluation: information is sufficient"},
		{Type: StreamEventDone, SessionID: "sess-2"},
	}
	if _, err := processor.Process(events); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "PROGRESS: Analyzing question intent...") {
		t.Errorf("message-only thinking event not rendered: %q", out)
	}
	if !strings.Contains(out, "EVALUATION: Evaluation: information is sufficient") {
		t.Errorf("message-only evaluation event not rendered: %q", out)
	}
}

func TestStreamProcessor_ErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	processor := NewStreamProcessorWithWriter(&buf, PersonalityMachine)

	events := []StreamEvent{
		{Type: StreamEventThinking, Message: "Analyzing question intent..."},
		{Type: StreamEventError, Error: "the agent could not complete this exchange, please try again"},
	}

	_, err := processor.Process(events)
	if err == nil {
		t.Fatal("expected error from error event")
	}
	if !strings.Contains(err.Error(), "could not complete") {
		t.Errorf("unexpected error: %v", err)
	}
	if processor.Result().Error == "" {
		t.Error("expected error captured in result")
	}
}

func TestRenderSources_MachineMode(t *testing.T) {
	SetPersonalityLevel(PersonalityMachine)
	t.Cleanup(func() { SetPersonalityLevel(PersonalityStandard) })

	var buf bytes.Buffer
	RenderSources(&buf, []SourceInfo{
		{ChunkID: "c1", Section: "Methods", Score: 0.912, TextPreview: "We train..."},
		{ChunkID: "c2", Section: "", Score: 0.5},
	})

	out := buf.String()
	if !strings.Contains(out, "SOURCE: c1 (Methods) score=0.912") {
		t.Errorf("missing first source line: %q", out)
	}
	if !strings.Contains(out, "SOURCE: c2") {
		t.Errorf("missing second source line: %q", out)
	}
}

func TestRenderSources_Empty(t *testing.T) {
	var buf bytes.Buffer
	RenderSources(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty sources, got %q", buf.String())
	}
}
