// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianScholar/services/llm"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/session"
)

// =============================================================================
// Test Doubles
// =============================================================================

type generation struct {
	text string
	err  error
}

// scriptedLLM replays canned responses in call order and records the
// parameters it was invoked with.
type scriptedLLM struct {
	mu           sync.Mutex
	generations  []generation
	genCalls     int
	streamChunks []string
	streamErr    error
	streamCalls  int
	streamParams llm.GenerationParams
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.genCalls >= len(s.generations) {
		return "", fmt.Errorf("unexpected generation call %d", s.genCalls+1)
	}
	g := s.generations[s.genCalls]
	s.genCalls++
	return g.text, g.err
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedLLM) ChatStream(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	s.mu.Lock()
	s.streamCalls++
	s.streamParams = params
	chunks := s.streamChunks
	streamErr := s.streamErr
	s.mu.Unlock()

	for _, chunk := range chunks {
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return streamErr
}

// scriptedSearcher returns fragments keyed by keyword and records every
// search it serves.
type scriptedSearcher struct {
	mu       sync.Mutex
	results  map[string][]datatypes.EvidenceFragment
	searched []string
	err      error
}

func (s *scriptedSearcher) Search(ctx context.Context, keyword, paperID string, topK int) ([]datatypes.EvidenceFragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searched = append(s.searched, keyword)
	if s.err != nil {
		return nil, s.err
	}
	return s.results[keyword], nil
}

func (s *scriptedSearcher) keywords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searched...)
}

type staticSections struct {
	titles []string
	err    error
}

func (s staticSections) SectionTitles(ctx context.Context, paperID string) ([]string, error) {
	return s.titles, s.err
}

// =============================================================================
// Test Helpers
// =============================================================================

func frag(id, text string) datatypes.EvidenceFragment {
	return datatypes.EvidenceFragment{ChunkID: id, Text: text, SectionTitle: "Methods", Score: 0.9, PaperID: "paper-1"}
}

const intentJSON = `{"category": "method", "target_sections": ["Methods"], "keywords": ["attention", "transformer"], "reasoning": "asks about the method"}`

const sufficientJSON = `{"is_sufficient": true, "missing_info": "", "suggested_keywords": [], "reasoning": "covers it"}`

func insufficientJSON(keywords ...string) string {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf(`{"is_sufficient": false, "missing_info": "needs detail", "suggested_keywords": [%s], "reasoning": "gaps"}`,
		strings.Join(quoted, ", "))
}

// runExchange drives one exchange to completion and returns every emitted
// event in order.
func runExchange(t *testing.T, c *Controller, req ExchangeRequest) []datatypes.StreamEvent {
	t.Helper()
	emitter := NewEmitter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunExchange(context.Background(), req, emitter)
	}()

	var events []datatypes.StreamEvent
	for ev := range emitter.Events() {
		events = append(events, ev)
	}
	<-done
	return events
}

func eventsOfType(events []datatypes.StreamEvent, eventType string) []datatypes.StreamEvent {
	var out []datatypes.StreamEvent
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig(maxRounds int) Config {
	return Config{MaxRounds: maxRounds, TopK: 5, StructuredTemperature: 0.2, AnswerTemperature: 0.7}
}

// =============================================================================
// Exchange Flow Tests
// =============================================================================

func TestRunExchange_SufficientFirstRound(t *testing.T) {
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"The model ", "uses attention."},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention":   {frag("c1", "self-attention layers")},
		"transformer": {frag("c2", "transformer blocks")},
	}}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{titles: []string{"Intro", "Methods"}}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "How does it work?"})

	doneEvents := eventsOfType(events, datatypes.EventDone)
	if len(doneEvents) != 1 {
		t.Fatalf("Expected exactly one done event, got %d", len(doneEvents))
	}
	if len(eventsOfType(events, datatypes.EventError)) != 0 {
		t.Fatalf("Unexpected error event")
	}
	if events[len(events)-1].Type != datatypes.EventDone {
		t.Errorf("Expected done to be the final event, got %q", events[len(events)-1].Type)
	}

	sessionID := doneEvents[0].SessionId
	if sessionID == "" {
		t.Fatal("Done event missing session id")
	}

	// Streamed content concatenates to the committed assistant turn.
	var streamed strings.Builder
	for _, ev := range eventsOfType(events, datatypes.EventContent) {
		streamed.WriteString(ev.Content)
	}
	sess, ok := store.Get(sessionID)
	if !ok {
		t.Fatal("Session not found after exchange")
	}
	if len(sess.History) != 2 {
		t.Fatalf("Expected 2 history messages, got %d", len(sess.History))
	}
	if sess.History[0].Role != datatypes.RoleUser || sess.History[0].Content != "How does it work?" {
		t.Errorf("Unexpected user turn: %+v", sess.History[0])
	}
	if sess.History[1].Role != datatypes.RoleAssistant || sess.History[1].Content != streamed.String() {
		t.Errorf("Committed assistant turn %q does not match streamed content %q",
			sess.History[1].Content, streamed.String())
	}

	sourcesEvents := eventsOfType(events, datatypes.EventSources)
	if len(sourcesEvents) != 1 {
		t.Fatalf("Expected one sources event, got %d", len(sourcesEvents))
	}
	if len(sourcesEvents[0].Sources) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(sourcesEvents[0].Sources))
	}

	// One classification call, one evaluation call, one streamed synthesis.
	if client.genCalls != 2 {
		t.Errorf("Expected 2 generation calls, got %d", client.genCalls)
	}
	if client.streamCalls != 1 {
		t.Errorf("Expected 1 stream call, got %d", client.streamCalls)
	}
	if client.streamParams.Temperature == nil || *client.streamParams.Temperature != 0.7 {
		t.Errorf("Expected synthesis temperature 0.7, got %v", client.streamParams.Temperature)
	}
}

func TestRunExchange_EmptyEvidenceShortCircuits(t *testing.T) {
	client := &scriptedLLM{generations: []generation{{text: intentJSON}}}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{}}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "What about pandas?"})

	contents := eventsOfType(events, datatypes.EventContent)
	if len(contents) != 1 {
		t.Fatalf("Expected one content event, got %d", len(contents))
	}
	if !strings.Contains(contents[0].Content, "could not find anything") {
		t.Errorf("Expected the canned answer, got %q", contents[0].Content)
	}

	// Sources are reported even when empty, and the turn is still committed.
	sources := eventsOfType(events, datatypes.EventSources)
	if len(sources) != 1 || len(sources[0].Sources) != 0 {
		t.Fatalf("Expected one empty sources event, got %+v", sources)
	}
	doneEvents := eventsOfType(events, datatypes.EventDone)
	if len(doneEvents) != 1 {
		t.Fatalf("Expected one done event, got %d", len(doneEvents))
	}
	sess, _ := store.Get(doneEvents[0].SessionId)
	if len(sess.History) != 2 {
		t.Fatalf("Expected the canned answer to be committed, history len %d", len(sess.History))
	}
	if sess.History[1].Content != contents[0].Content {
		t.Errorf("Committed answer %q differs from streamed canned answer", sess.History[1].Content)
	}

	// No evaluation and no synthesis call happened.
	if client.genCalls != 1 {
		t.Errorf("Expected only the classification call, got %d generation calls", client.genCalls)
	}
	if client.streamCalls != 0 {
		t.Errorf("Expected no synthesis stream call, got %d", client.streamCalls)
	}
}

func TestRunExchange_InsufficientRunsMoreRounds(t *testing.T) {
	client := &scriptedLLM{
		generations: []generation{
			{text: intentJSON},
			{text: insufficientJSON("ablation study")},
			{text: sufficientJSON},
		},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention":      {frag("c1", "first round hit")},
		"ablation study": {frag("c2", "second round hit")},
	}}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	keywords := searcher.keywords()
	found := false
	for _, k := range keywords {
		if k == "ablation study" {
			found = true
		}
	}
	if !found {
		t.Errorf("Round 2 should search the suggested keywords, searched %v", keywords)
	}

	retrievals := eventsOfType(events, datatypes.EventRetrieval)
	maxRound := 0
	for _, ev := range retrievals {
		if ev.Round > maxRound {
			maxRound = ev.Round
		}
	}
	if maxRound != 2 {
		t.Errorf("Expected retrieval events up to round 2, got %d", maxRound)
	}
	if len(eventsOfType(events, datatypes.EventDone)) != 1 {
		t.Fatal("Expected one done event")
	}
}

func TestRunExchange_SuggestedKeywordFallbackToQuestion(t *testing.T) {
	client := &scriptedLLM{
		generations: []generation{
			{text: intentJSON},
			{text: insufficientJSON()}, // no suggestions
			{text: sufficientJSON},
		},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
		"the original question": {frag("c2", "fallback hit")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "the original question"})

	found := false
	for _, k := range searcher.keywords() {
		if k == "the original question" {
			found = true
		}
	}
	if !found {
		t.Errorf("Round 2 without suggestions should fall back to the question, searched %v", searcher.keywords())
	}
}

func TestRunExchange_MaxRoundsBestEffort(t *testing.T) {
	client := &scriptedLLM{
		generations: []generation{
			{text: intentJSON},
			{text: insufficientJSON("more")},
			{text: insufficientJSON("even more")},
		},
		streamChunks: []string{"best effort answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
		"more":      {frag("c2", "hit2")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(2))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	if len(eventsOfType(events, datatypes.EventDone)) != 1 {
		t.Fatal("Exhausting rounds must still produce an answer and a done event")
	}
	// Intent plus one evaluation per round, then streamed synthesis.
	if client.genCalls != 3 {
		t.Errorf("Expected 3 generation calls with 2 rounds, got %d", client.genCalls)
	}
	if client.streamCalls != 1 {
		t.Errorf("Expected synthesis to run, got %d stream calls", client.streamCalls)
	}

	evals := eventsOfType(events, datatypes.EventEvaluation)
	last := evals[len(evals)-1]
	if !strings.Contains(last.Content, "round limit") {
		t.Errorf("Final evaluation event should mention the round limit, got %q", last.Content)
	}
}

func TestRunExchange_ProgressEventsCarryContent(t *testing.T) {
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	// A consumer that only reads the content field must see every
	// thinking, retrieval, and evaluation payload.
	progress := 0
	for _, ev := range events {
		switch ev.Type {
		case datatypes.EventThinking, datatypes.EventRetrieval, datatypes.EventEvaluation:
			progress++
			if ev.Content == "" {
				t.Errorf("%s event has empty content", ev.Type)
			}
			if ev.Message != ev.Content {
				t.Errorf("%s event message %q does not mirror content %q", ev.Type, ev.Message, ev.Content)
			}
		}
	}
	if progress == 0 {
		t.Fatal("Expected progress events in the stream")
	}
}

func TestRunExchange_DeduplicatesAcrossRounds(t *testing.T) {
	client := &scriptedLLM{
		generations: []generation{
			{text: intentJSON},
			{text: insufficientJSON("attention")}, // round 2 repeats the keyword
			{text: sufficientJSON},
		},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention":   {frag("c1", "same chunk both rounds")},
		"transformer": {frag("c1", "same chunk both rounds")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	sources := eventsOfType(events, datatypes.EventSources)
	if len(sources) != 1 {
		t.Fatalf("Expected one sources event, got %d", len(sources))
	}
	if len(sources[0].Sources) != 1 {
		t.Errorf("Duplicate chunk ids must collapse to one source, got %d", len(sources[0].Sources))
	}
}

func TestRunExchange_SourcesCappedAtFive(t *testing.T) {
	many := make([]datatypes.EvidenceFragment, 8)
	for i := range many {
		many[i] = frag(fmt.Sprintf("c%d", i), strings.Repeat("x", 150))
	}
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{"attention": many}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	sources := eventsOfType(events, datatypes.EventSources)[0].Sources
	if len(sources) != datatypes.MaxSourcesPerAnswer {
		t.Fatalf("Expected %d sources, got %d", datatypes.MaxSourcesPerAnswer, len(sources))
	}
	preview := sources[0].TextPreview
	if len(preview) != datatypes.MaxSourcePreviewChars+3 || !strings.HasSuffix(preview, "...") {
		t.Errorf("Expected %d-char preview with ellipsis, got %d chars",
			datatypes.MaxSourcePreviewChars, len(preview))
	}
}

// =============================================================================
// Failure Path Tests
// =============================================================================

func TestRunExchange_ClassifierFailureIsFatal(t *testing.T) {
	client := &scriptedLLM{generations: []generation{{err: errors.New("backend down")}}}
	store := session.NewStore()
	c := NewController(client, &scriptedSearcher{}, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	errEvents := eventsOfType(events, datatypes.EventError)
	if len(errEvents) != 1 {
		t.Fatalf("Expected exactly one error event, got %d", len(errEvents))
	}
	if len(eventsOfType(events, datatypes.EventDone)) != 0 {
		t.Fatal("Error exchange must not emit done")
	}
	if strings.Contains(errEvents[0].Error, "backend down") {
		t.Errorf("Internal error detail leaked to the client: %q", errEvents[0].Error)
	}
	if len(store.List()) != 1 {
		t.Fatalf("Session should exist from INIT, got %d", len(store.List()))
	}
	if store.List()[0].MessageCount != 0 {
		t.Error("Failed exchange must not commit history")
	}
}

func TestRunExchange_ClassifierParseFailureFallsBack(t *testing.T) {
	longQuestion := strings.Repeat("q", 80)
	client := &scriptedLLM{
		generations:  []generation{{text: "this is not json at all"}, {text: sufficientJSON}},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		longQuestion[:50]: {frag("c1", "hit")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: longQuestion})

	keywords := searcher.keywords()
	if len(keywords) != 1 || keywords[0] != longQuestion[:50] {
		t.Errorf("Parse fallback should search the truncated question, searched %v", keywords)
	}
	if len(eventsOfType(events, datatypes.EventDone)) != 1 {
		t.Fatal("Fallback classification must not abort the exchange")
	}
}

func TestRunExchange_EvaluatorParseFailureFailsOpen(t *testing.T) {
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: "garbled"}},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
	}}
	c := NewController(client, searcher, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	if len(eventsOfType(events, datatypes.EventDone)) != 1 {
		t.Fatal("Unparseable verdict must fail open and finish in one round")
	}
	// Fail-open means no second retrieval round happened.
	if client.genCalls != 2 {
		t.Errorf("Expected 2 generation calls, got %d", client.genCalls)
	}
}

func TestRunExchange_SearchFailureIsFatal(t *testing.T) {
	client := &scriptedLLM{generations: []generation{{text: intentJSON}}}
	searcher := &scriptedSearcher{err: errors.New("weaviate unreachable")}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	if len(eventsOfType(events, datatypes.EventError)) != 1 {
		t.Fatal("Expected one error event")
	}
	if len(eventsOfType(events, datatypes.EventDone)) != 0 {
		t.Fatal("Search failure must not emit done")
	}
}

func TestRunExchange_SynthesisFailureNotCommitted(t *testing.T) {
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"partial "},
		streamErr:    errors.New("stream interrupted"),
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
	}}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	if len(eventsOfType(events, datatypes.EventError)) != 1 {
		t.Fatal("Expected one error event after stream failure")
	}
	// Partial content was streamed, but nothing was committed.
	if store.List()[0].MessageCount != 0 {
		t.Error("Interrupted synthesis must not commit history")
	}
}

func TestRunExchange_SessionPaperMismatch(t *testing.T) {
	store := session.NewStore()
	sessionID := store.Create("paper-A")
	client := &scriptedLLM{}
	c := NewController(client, &scriptedSearcher{}, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-B", Question: "q", SessionID: sessionID})

	errEvents := eventsOfType(events, datatypes.EventError)
	if len(errEvents) != 1 {
		t.Fatalf("Expected one error event, got %d", len(errEvents))
	}
	if !strings.Contains(errEvents[0].Error, "does not belong") {
		t.Errorf("Expected a paper mismatch message, got %q", errEvents[0].Error)
	}
	if client.genCalls != 0 {
		t.Error("Mismatched session must fail before any model call")
	}
}

func TestRunExchange_UnknownSession(t *testing.T) {
	c := NewController(&scriptedLLM{}, &scriptedSearcher{}, staticSections{}, session.NewStore(), testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "q", SessionID: "no-such-session"})

	errEvents := eventsOfType(events, datatypes.EventError)
	if len(errEvents) != 1 || !strings.Contains(errEvents[0].Error, "not found") {
		t.Fatalf("Expected a session not found error, got %+v", errEvents)
	}
}

func TestRunExchange_CancelledBeforeStart(t *testing.T) {
	store := session.NewStore()
	c := NewController(&scriptedLLM{}, &scriptedSearcher{}, staticSections{}, store, testConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitter := NewEmitter()
	go c.RunExchange(ctx, ExchangeRequest{PaperID: "paper-1", Question: "q"}, emitter)

	var events []datatypes.StreamEvent
	for ev := range emitter.Events() {
		events = append(events, ev)
	}

	if len(eventsOfType(events, datatypes.EventDone)) != 0 {
		t.Fatal("Cancelled exchange must not emit done")
	}
	for _, summary := range store.List() {
		if summary.MessageCount != 0 {
			t.Error("Cancelled exchange must not commit history")
		}
	}
}

// =============================================================================
// Multi-Turn Tests
// =============================================================================

func TestRunExchange_SecondTurnSeesHistory(t *testing.T) {
	client := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"first answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
	}}
	store := session.NewStore()
	c := NewController(client, searcher, staticSections{}, store, testConfig(3))

	events := runExchange(t, c, ExchangeRequest{PaperID: "paper-1", Question: "first?"})
	sessionID := eventsOfType(events, datatypes.EventDone)[0].SessionId

	client2 := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"second answer"},
	}
	c2 := NewController(client2, searcher, staticSections{}, store, testConfig(3))
	runExchange(t, c2, ExchangeRequest{PaperID: "paper-1", Question: "second?", SessionID: sessionID})

	sess, _ := store.Get(sessionID)
	if len(sess.History) != 4 {
		t.Fatalf("Expected 4 history messages after two turns, got %d", len(sess.History))
	}
	if sess.History[2].Content != "second?" || sess.History[3].Content != "second answer" {
		t.Errorf("Second turn committed out of order: %+v", sess.History[2:])
	}
}

func TestWithLLM_DoesNotMutateOriginal(t *testing.T) {
	base := &scriptedLLM{}
	other := &scriptedLLM{
		generations:  []generation{{text: intentJSON}, {text: sufficientJSON}},
		streamChunks: []string{"answer"},
	}
	searcher := &scriptedSearcher{results: map[string][]datatypes.EvidenceFragment{
		"attention": {frag("c1", "hit")},
	}}
	store := session.NewStore()
	c := NewController(base, searcher, staticSections{}, store, testConfig(3))

	clone := c.WithLLM(other)
	runExchange(t, clone, ExchangeRequest{PaperID: "paper-1", Question: "q"})

	if base.genCalls != 0 || base.streamCalls != 0 {
		t.Error("Original controller's backend must stay untouched")
	}
	if other.genCalls == 0 {
		t.Error("Clone should route calls to the overriding backend")
	}
}
