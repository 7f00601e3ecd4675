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
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianScholar/services/llm"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/observability"
	"github.com/AleutianAI/AleutianScholar/services/paperagent/session"
)

var loopTracer = otel.Tracer("aleutian.paperagent.agent")

// ErrValidation marks request-level failures (session/paper mismatch,
// unknown session). Fatal for the exchange, reported immediately.
var ErrValidation = errors.New("validation error")

// ErrCapability marks failures of an external capability call (text
// generation, similarity search). Fatal for the current exchange; any
// retry lives inside the capability, never in the loop.
var ErrCapability = errors.New("capability error")

// Config tunes the retrieval loop.
type Config struct {
	// MaxRounds caps retrieve/evaluate cycles per exchange.
	// Default: 3 (AGENT_MAX_RETRIEVAL_ROUNDS)
	MaxRounds int

	// TopK is the per-keyword retrieval depth.
	// Default: 5 (TOP_K_RETRIEVAL)
	TopK int

	// StructuredTemperature is used for classification and evaluation
	// calls, kept low for determinism.
	StructuredTemperature float32

	// AnswerTemperature is used for the streamed synthesis call.
	AnswerTemperature float32
}

// DefaultConfig returns production defaults, overridable via environment.
func DefaultConfig() Config {
	return Config{
		MaxRounds:             getEnvInt("AGENT_MAX_RETRIEVAL_ROUNDS", 3),
		TopK:                  getEnvInt("TOP_K_RETRIEVAL", 5),
		StructuredTemperature: 0.2,
		AnswerTemperature:     0.7,
	}
}

// ExchangeRequest identifies one question/answer cycle.
type ExchangeRequest struct {
	PaperID   string
	Question  string
	SessionID string // empty starts a new session
}

// Controller is the exchange state machine: INIT, INTENT, bounded
// RETRIEVE/EVALUATE rounds, SYNTHESIZE, DONE, with ERROR reachable from
// every state.
//
// # Thread Safety
//
// Controller is safe for concurrent use; all exchange state lives in a
// per-call exchange value. Concurrent exchanges against the same session
// serialize on the session's exchange lock.
type Controller struct {
	llm       llm.LLMClient
	retriever *Retriever
	sections  SectionLister
	sessions  *session.Store
	intent    *IntentClassifier
	evaluator *CompletenessEvaluator
	config    Config
}

// NewController wires the loop over its capabilities.
func NewController(client llm.LLMClient, searcher SearchProvider, sections SectionLister,
	sessions *session.Store, config Config) *Controller {

	c := &Controller{
		llm:       client,
		retriever: NewRetriever(searcher),
		sections:  sections,
		sessions:  sessions,
		config:    config,
	}
	generate := c.structuredGenerate()
	c.intent = NewIntentClassifier(generate, DefaultIntentConfig())
	c.evaluator = NewCompletenessEvaluator(generate, DefaultEvaluatorConfig())
	return c
}

// WithLLM returns a shallow copy of the controller bound to a different
// text-generation backend. Used for per-request provider hints.
func (c *Controller) WithLLM(client llm.LLMClient) *Controller {
	clone := *c
	clone.llm = client
	generate := clone.structuredGenerate()
	clone.intent = NewIntentClassifier(generate, DefaultIntentConfig())
	clone.evaluator = NewCompletenessEvaluator(generate, DefaultEvaluatorConfig())
	return &clone
}

// structuredGenerate closes over the backend for non-streaming structured
// calls at the low structured temperature.
func (c *Controller) structuredGenerate() GenerateFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		temp := c.config.StructuredTemperature
		return c.llm.Generate(ctx, prompt, llm.GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
		})
	}
}

// exchange holds the transient state of one question/answer cycle.
// Everything here is discarded after the terminal event.
type exchange struct {
	paperID   string
	question  string
	sessionID string
	history   []datatypes.Message

	intent   datatypes.Intent
	evidence []datatypes.EvidenceFragment
	seen     map[string]bool
	verdict  datatypes.CompletenessVerdict
	rounds   int
	answer   string
}

// RunExchange drives one full exchange, emitting progress and exactly one
// terminal event (done xor error) before closing the emitter.
//
// # Description
//
// Intended to run in its own goroutine; the transport consumes
// emitter.Events() concurrently. The context is checked at every
// suspension point: once it is cancelled no new external call starts and
// no commit happens. History is committed only after a fully successful
// synthesis, so a failed exchange never leaves a half-written turn.
func (c *Controller) RunExchange(ctx context.Context, req ExchangeRequest, emitter *Emitter) {
	defer emitter.Close()

	ctx, span := loopTracer.Start(ctx, "AgentExchange")
	defer span.End()
	span.SetAttributes(attribute.String("paper.id", req.PaperID))

	ex := &exchange{
		paperID:   req.PaperID,
		question:  req.Question,
		sessionID: req.SessionID,
		seen:      make(map[string]bool),
	}

	start := time.Now()
	err := c.run(ctx, ex, emitter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.DefaultMetrics.RecordExchange(string(ex.intent.Category), "error", time.Since(start))
		slog.Error("Agent exchange failed",
			"paperID", req.PaperID, "sessionID", ex.sessionID, "error", err)
		// Exactly one terminal event. Delivery can itself fail when the
		// exchange was cancelled; nothing more to do then.
		_ = emitter.Emit(ctx, datatypes.StreamEvent{
			Type:  datatypes.EventError,
			Error: sanitizeError(err),
		})
		return
	}

	observability.DefaultMetrics.RecordExchange(string(ex.intent.Category), "ok", time.Since(start))
	_ = emitter.Emit(ctx, datatypes.StreamEvent{
		Type:      datatypes.EventDone,
		SessionId: ex.sessionID,
	})
}

// run executes the state machine up to (but not including) the terminal
// event. A nil return means the exchange succeeded and was committed.
func (c *Controller) run(ctx context.Context, ex *exchange, emitter *Emitter) error {
	if err := c.stateInit(ex); err != nil {
		return err
	}

	// One in-flight exchange per session; a concurrent second caller
	// blocks here until the first completes.
	release, err := c.sessions.AcquireExchange(ex.sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer release()

	if err := c.stateIntent(ctx, ex, emitter); err != nil {
		return err
	}
	if err := c.stateRetrieveEvaluate(ctx, ex, emitter); err != nil {
		return err
	}
	if err := c.stateSynthesize(ctx, ex, emitter); err != nil {
		return err
	}
	return c.commit(ctx, ex, emitter)
}

// stateInit resolves or creates the session and loads its history.
func (c *Controller) stateInit(ex *exchange) error {
	if ex.sessionID == "" {
		ex.sessionID = c.sessions.Create(ex.paperID)
		slog.Info("Agent created session", "sessionID", ex.sessionID, "paperID", ex.paperID)
		return nil
	}

	sess, err := c.sessions.Resolve(ex.sessionID, ex.paperID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ex.history = sess.History
	return nil
}

// stateIntent fetches the paper outline and classifies the question.
func (c *Controller) stateIntent(ctx context.Context, ex *exchange, emitter *Emitter) error {
	if err := emitter.Emit(ctx, thinkingEvent("Analyzing question intent...")); err != nil {
		return err
	}

	// A missing outline degrades classification, it does not abort.
	sectionTitles, err := c.sections.SectionTitles(ctx, ex.paperID)
	if err != nil {
		slog.Warn("Failed to fetch section titles, classifying without outline", "error", err)
		sectionTitles = nil
	}

	ex.intent, err = c.intent.Classify(ctx, ex.question, sectionTitles, ex.history)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapability, err)
	}

	targets := strings.Join(ex.intent.TargetSections, ", ")
	if targets == "" {
		targets = "whole paper"
	}
	summary := fmt.Sprintf("Intent analysis complete:\n- category: %s\n- target sections: %s\n- keywords: %s\n- reasoning: %s",
		ex.intent.Category, targets, strings.Join(ex.intent.Keywords, ", "), ex.intent.Reasoning)
	return emitter.Emit(ctx, thinkingEvent(summary))
}

// stateRetrieveEvaluate runs the bounded retrieve/evaluate rounds.
//
// Round 1 searches with the intent keywords; later rounds use the
// previous verdict's suggestions, falling back to the question itself.
// The accumulated evidence set only ever grows; an empty set after any
// round short-circuits to synthesis on the empty-evidence path.
func (c *Controller) stateRetrieveEvaluate(ctx context.Context, ex *exchange, emitter *Emitter) error {
	for round := 1; round <= c.config.MaxRounds; round++ {
		ex.rounds = round

		var keywords []string
		if round == 1 {
			keywords = ex.intent.Keywords
		} else {
			keywords = ex.verdict.SuggestedKeywords
			if len(keywords) == 0 {
				keywords = []string{ex.question}
			}
		}

		err := emitter.Emit(ctx, retrievalEvent(round,
			fmt.Sprintf("Retrieval round %d (keywords: %s)", round, strings.Join(keywords, ", "))))
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := c.retriever.MultiSearch(ctx, keywords, ex.paperID, c.config.TopK)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCapability, err)
		}
		ex.evidence, ex.seen = MergeFragments(ex.evidence, ex.seen, found)
		observability.DefaultMetrics.RecordFragments(len(found))

		err = emitter.Emit(ctx, retrievalEvent(round,
			fmt.Sprintf("Retrieved %d relevant fragments", len(ex.evidence))))
		if err != nil {
			return err
		}

		// Defined terminal path, not an error: nothing to evaluate.
		if len(ex.evidence) == 0 {
			return emitter.Emit(ctx, evaluationEvent(round, "No relevant content retrieved"))
		}

		if err := emitter.Emit(ctx, thinkingEvent("Evaluating information completeness...")); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ex.verdict, err = c.evaluator.Evaluate(ctx, ex.question, formatEvidence(ex.evidence))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCapability, err)
		}
		observability.DefaultMetrics.RecordVerdict(ex.verdict.IsSufficient)

		switch {
		case ex.verdict.IsSufficient:
			err = emitter.Emit(ctx, evaluationEvent(round,
				fmt.Sprintf("Evaluation: information is sufficient, generating the answer\nReasoning: %s",
					ex.verdict.Reasoning)))
		case round < c.config.MaxRounds:
			err = emitter.Emit(ctx, evaluationEvent(round,
				fmt.Sprintf("Evaluation: more information needed\nMissing: %s\nSuggested keywords: %s",
					ex.verdict.MissingInfo, strings.Join(ex.verdict.SuggestedKeywords, ", "))))
		default:
			err = emitter.Emit(ctx, evaluationEvent(round,
				fmt.Sprintf("Evaluation: retrieval round limit reached, answering with what was found\nMissing: %s",
					ex.verdict.MissingInfo)))
		}
		if err != nil {
			return err
		}
		if ex.verdict.IsSufficient {
			break
		}
	}
	observability.DefaultMetrics.RecordRounds(ex.rounds)
	return nil
}

// stateSynthesize produces the answer: canned on the empty-evidence path,
// streamed from the model otherwise.
func (c *Controller) stateSynthesize(ctx context.Context, ex *exchange, emitter *Emitter) error {
	if len(ex.evidence) == 0 {
		ex.answer = notFoundAnswer
		return emitter.Emit(ctx, datatypes.StreamEvent{
			Type:    datatypes.EventContent,
			Content: ex.answer,
		})
	}

	prompt := buildAnswerPrompt(formatEvidence(ex.evidence), ex.question)

	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "You are an expert academic paper assistant."},
	}
	if len(ex.history) > 0 {
		recent := ex.history
		if len(recent) > historyContextMessages {
			recent = recent[len(recent)-historyContextMessages:]
		}
		messages = append(messages, recent...)
	}
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: prompt})

	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	temp := c.config.AnswerTemperature
	err := c.llm.ChatStream(ctx, messages, llm.GenerationParams{Temperature: &temp},
		func(chunk string) error {
			sb.WriteString(chunk)
			// Bounded hand-off: a lagging consumer blocks the stream here.
			return emitter.Emit(ctx, datatypes.StreamEvent{
				Type:    datatypes.EventContent,
				Content: chunk,
			})
		})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: answer synthesis failed: %v", ErrCapability, err)
	}

	ex.answer = sb.String()
	return nil
}

// commit emits the sources event and atomically records the turn.
func (c *Controller) commit(ctx context.Context, ex *exchange, emitter *Emitter) error {
	sources := make([]datatypes.SourceInfo, 0, datatypes.MaxSourcesPerAnswer)
	for _, frag := range ex.evidence {
		if len(sources) == datatypes.MaxSourcesPerAnswer {
			break
		}
		sources = append(sources, datatypes.SourceInfo{
			ChunkID:     frag.ChunkID,
			Section:     frag.SectionTitle,
			Score:       frag.Score,
			TextPreview: truncateString(frag.Text, datatypes.MaxSourcePreviewChars),
		})
	}
	err := emitter.Emit(ctx, datatypes.StreamEvent{
		Type:    datatypes.EventSources,
		Sources: sources,
	})
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		// Cancelled before commit: the turn is not recorded.
		return err
	}

	now := time.Now()
	err = c.sessions.Commit(ex.sessionID,
		datatypes.Message{Role: datatypes.RoleUser, Content: ex.question, Timestamp: now},
		datatypes.Message{Role: datatypes.RoleAssistant, Content: ex.answer, Timestamp: now},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// Progress events carry their text in Content, the payload field every
// consumer reads. Message mirrors it for typed access.

func thinkingEvent(text string) datatypes.StreamEvent {
	return datatypes.StreamEvent{Type: datatypes.EventThinking, Content: text, Message: text}
}

func retrievalEvent(round int, text string) datatypes.StreamEvent {
	return datatypes.StreamEvent{Type: datatypes.EventRetrieval, Round: round, Content: text, Message: text}
}

func evaluationEvent(round int, text string) datatypes.StreamEvent {
	return datatypes.StreamEvent{Type: datatypes.EventEvaluation, Round: round, Content: text, Message: text}
}

// sanitizeError maps internal failures to client-safe messages.
// Validation problems are precise; everything else stays generic.
func sanitizeError(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		if errors.Is(err, session.ErrPaperMismatch) {
			return "session does not belong to the requested paper"
		}
		if errors.Is(err, session.ErrNotFound) {
			return "session not found"
		}
		return "invalid request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	default:
		return "the agent could not complete this exchange, please try again"
	}
}
