// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleStream = `event: thinking
data: {"type":"thinking","message":"Analyzing question intent..."}

event: retrieval
data: {"type":"retrieval","round":1,"message":"Retrieval round 1 (keywords: attention)"}

: keepalive

event: content
data: {"type":"content","content":"The model "}

event: content
data: {"type":"content","content":"uses attention."}

event: sources
data: {"type":"sources","sources":[{"chunk_id":"c1","section":"Methods","score":0.9,"text_preview":"We..."}]}

event: done
data: {"type":"done","session_id":"sess-9"}
`

func TestSSEStreamReader_Read(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	t.Run("DeliversEventsInOrderWithIndexes", func(t *testing.T) {
		var events []StreamEvent
		err := reader.Read(context.Background(), strings.NewReader(sampleStream), func(event StreamEvent) error {
			events = append(events, event)
			return nil
		})
		if err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
		if len(events) != 6 {
			t.Fatalf("expected 6 events, got %d", len(events))
		}
		for i, event := range events {
			if event.Index != i {
				t.Errorf("event %d has index %d", i, event.Index)
			}
		}
		if events[0].Type != StreamEventThinking {
			t.Errorf("expected first event thinking, got %q", events[0].Type)
		}
		if events[len(events)-1].Type != StreamEventDone {
			t.Errorf("expected last event done, got %q", events[len(events)-1].Type)
		}
	})

	t.Run("StopsAtTerminalEvent", func(t *testing.T) {
		stream := sampleStream + `data: {"type":"content","content":"after done"}` + "\n"
		var count int
		err := reader.Read(context.Background(), strings.NewReader(stream), func(event StreamEvent) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
		if count != 6 {
			t.Errorf("expected reading to stop at done, got %d events", count)
		}
	})

	t.Run("CallbackErrorStopsRead", func(t *testing.T) {
		stopErr := errors.New("stop")
		var count int
		err := reader.Read(context.Background(), strings.NewReader(sampleStream), func(event StreamEvent) error {
			count++
			return stopErr
		})
		if !errors.Is(err, stopErr) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if count != 1 {
			t.Errorf("expected exactly one callback, got %d", count)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := reader.Read(ctx, strings.NewReader(sampleStream), func(event StreamEvent) error {
			t.Error("callback should not run after cancellation")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestSSEStreamReader_ReadAll(t *testing.T) {
	reader := NewSSEStreamReader(NewSSEParser())

	t.Run("AggregatesAnswerSourcesAndSession", func(t *testing.T) {
		result, err := reader.ReadAll(context.Background(), strings.NewReader(sampleStream))
		if err != nil {
			t.Fatalf("ReadAll returned error: %v", err)
		}
		if result.Answer != "The model uses attention." {
			t.Errorf("unexpected answer: %q", result.Answer)
		}
		if result.SessionID != "sess-9" {
			t.Errorf("expected session id %q, got %q", "sess-9", result.SessionID)
		}
		if len(result.Sources) != 1 {
			t.Fatalf("expected 1 source, got %d", len(result.Sources))
		}
		if result.Rounds != 1 {
			t.Errorf("expected 1 round, got %d", result.Rounds)
		}
		if result.TotalEvents != 6 {
			t.Errorf("expected 6 total events, got %d", result.TotalEvents)
		}
		if result.TotalTokens != 2 {
			t.Errorf("expected 2 content increments, got %d", result.TotalTokens)
		}
		if result.Error != "" {
			t.Errorf("expected no error, got %q", result.Error)
		}
		if len(result.Events) != 6 {
			t.Errorf("expected raw events retained for verification, got %d", len(result.Events))
		}
	})

	t.Run("ServerErrorCapturedNotReturned", func(t *testing.T) {
		stream := `data: {"type":"error","error":"the agent could not complete this exchange, please try again"}` + "\n"
		result, err := reader.ReadAll(context.Background(), strings.NewReader(stream))
		if err != nil {
			t.Fatalf("ReadAll returned error: %v", err)
		}
		if result.Error == "" {
			t.Error("expected server error captured in result")
		}
		if result.Answer != "" {
			t.Errorf("expected empty answer, got %q", result.Answer)
		}
	})
}
