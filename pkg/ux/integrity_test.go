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

// chainEvents builds a valid hash chain over the given events, mirroring
// how the agent service stamps them before sending.
func chainEvents(events []StreamEvent) []StreamEvent {
	prevHash := ""
	for i := range events {
		events[i].PrevHash = prevHash
		events[i].Hash = ComputeEventHash(events[i])
		prevHash = events[i].Hash
	}
	return events
}

func sampleChain() []StreamEvent {
	return chainEvents([]StreamEvent{
		{Id: "ev-1", Type: StreamEventThinking, CreatedAt: 1757000000001, Message: "Analyzing question intent..."},
		{Id: "ev-2", Type: StreamEventRetrieval, CreatedAt: 1757000000002, Round: 1, Message: "Retrieval round 1 (keywords: attention)"},
		{Id: "ev-3", Type: StreamEventContent, CreatedAt: 1757000000003, Content: "The model uses attention."},
		{Id: "ev-4", Type: StreamEventSources, CreatedAt: 1757000000004, Sources: []SourceInfo{
			{ChunkID: "c1", Section: "Methods", Score: 0.91, TextPreview: "We train..."},
		}},
		{Id: "ev-5", Type: StreamEventDone, CreatedAt: 1757000000005, SessionID: "sess-9"},
	})
}

func TestChainVerifier_ValidChain(t *testing.T) {
	verifier := NewChainVerifier()

	result := verifier.Verify(sampleChain())
	if !result.Valid {
		t.Fatalf("expected valid chain, got violations: %+v", result.Violations)
	}
	if result.EventsChecked != 5 {
		t.Errorf("expected 5 events checked, got %d", result.EventsChecked)
	}
	if len(result.Violations) != 0 {
		t.Errorf("expected no violations, got %d", len(result.Violations))
	}
}

func TestChainVerifier_DetectsTampering(t *testing.T) {
	verifier := NewChainVerifier()

	t.Run("ModifiedContent", func(t *testing.T) {
		events := sampleChain()
		events[2].Content = "The model uses convolution."

		result := verifier.Verify(events)
		if result.Valid {
			t.Fatal("expected invalid chain after content modification")
		}
		found := false
		for _, v := range result.Violations {
			if v.EventIndex == 2 && v.Kind == "hash_mismatch" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected hash_mismatch at event 2, got %+v", result.Violations)
		}
	})

	t.Run("DroppedEvent", func(t *testing.T) {
		events := sampleChain()
		events = append(events[:2], events[3:]...)

		result := verifier.Verify(events)
		if result.Valid {
			t.Fatal("expected invalid chain after dropping an event")
		}
		found := false
		for _, v := range result.Violations {
			if v.Kind == "chain_break" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected chain_break violation, got %+v", result.Violations)
		}
	})

	t.Run("InjectedEvent", func(t *testing.T) {
		events := sampleChain()
		forged := StreamEvent{Id: "ev-x", Type: StreamEventContent, Content: "injected text"}
		forged.PrevHash = events[2].Hash
		forged.Hash = ComputeEventHash(forged)

		injected := make([]StreamEvent, 0, len(events)+1)
		injected = append(injected, events[:3]...)
		injected = append(injected, forged)
		injected = append(injected, events[3:]...)

		result := verifier.Verify(injected)
		if result.Valid {
			t.Fatal("expected invalid chain after injecting an event")
		}
	})

	t.Run("MissingHash", func(t *testing.T) {
		events := sampleChain()
		events[4].Hash = ""

		result := verifier.Verify(events)
		if result.Valid {
			t.Fatal("expected invalid chain when an event has no hash")
		}
		if result.EventsChecked != 4 {
			t.Errorf("expected 4 events checked, got %d", result.EventsChecked)
		}
	})
}

func TestChainVerifier_EmptyStream(t *testing.T) {
	result := NewChainVerifier().Verify(nil)
	if !result.Valid {
		t.Error("expected empty stream to verify as valid")
	}
	if result.EventsChecked != 0 {
		t.Errorf("expected 0 events checked, got %d", result.EventsChecked)
	}
}

func TestComputeEventHash_SourcesAffectHash(t *testing.T) {
	base := StreamEvent{Id: "ev-1", Type: StreamEventSources, CreatedAt: 1}
	withSources := base
	withSources.Sources = []SourceInfo{{ChunkID: "c1", Section: "Intro", Score: 0.5, TextPreview: "p"}}

	if ComputeEventHash(base) == ComputeEventHash(withSources) {
		t.Error("expected sources to change the hash")
	}
}

func TestSecureHashEqual(t *testing.T) {
	if !secureHashEqual("abc", "abc") {
		t.Error("expected equal hashes to compare equal")
	}
	if secureHashEqual("abc", "abd") {
		t.Error("expected different hashes to compare unequal")
	}
	if secureHashEqual("abc", "abcd") {
		t.Error("expected different-length hashes to compare unequal")
	}
}
