// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the paper agent service.
//
// This file contains the agent exchange types: question intent, retrieved
// evidence, completeness verdicts, and the SSE stream event envelope.
// Session and chat history types live in session.go; Weaviate query types
// live in paper.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of a user question.
	// Per SEC-003: Unbounded message input mitigation.
	MaxQuestionBytes = 8 * 1024 // 8KB

	// MaxSourcePreviewChars is the number of characters of fragment text
	// included in a sources event.
	MaxSourcePreviewChars = 100

	// MaxSourcesPerAnswer is the number of fragments reported as sources.
	MaxSourcesPerAnswer = 5
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// agentValidate is the validator instance for agent datatypes.
// Initialized in init() with custom validators.
var agentValidate *validator.Validate

func init() {
	agentValidate = validator.New()

	// Register custom validator for question size (SEC-003)
	_ = agentValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxQuestionBytes.
//
// Checks byte length (not rune count) to prevent memory exhaustion with
// large payloads.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// =============================================================================
// Intent Types
// =============================================================================

// IntentCategory classifies what a question is asking about.
type IntentCategory string

const (
	IntentContribution   IntentCategory = "contribution"
	IntentMethod         IntentCategory = "method"
	IntentExperiment     IntentCategory = "experiment"
	IntentComparison     IntentCategory = "comparison"
	IntentMotivation     IntentCategory = "motivation"
	IntentImplementation IntentCategory = "implementation"
	IntentGeneral        IntentCategory = "general"
)

// ValidCategory reports whether c is one of the known intent categories.
func ValidCategory(c IntentCategory) bool {
	switch c {
	case IntentContribution, IntentMethod, IntentExperiment, IntentComparison,
		IntentMotivation, IntentImplementation, IntentGeneral:
		return true
	}
	return false
}

// Intent is the structured interpretation of a user question.
//
// # Fields
//
//   - Category: One of the IntentCategory constants. Unknown values are
//     normalized to IntentGeneral at parse time.
//   - TargetSections: Section titles likely to hold the answer. May be empty.
//   - Keywords: Retrieval phrases for the first search round. May be empty.
//   - Reasoning: Free-text explanation from the classifier. Display only.
type Intent struct {
	Category       IntentCategory `json:"category"`
	TargetSections []string       `json:"target_sections"`
	Keywords       []string       `json:"keywords"`
	Reasoning      string         `json:"reasoning"`
}

// =============================================================================
// Evidence Types
// =============================================================================

// EvidenceFragment is one retrieved chunk of paper text.
//
// ChunkID is the identity used for deduplication across retrieval rounds.
// Score is the similarity certainty reported by the vector store (higher
// is better).
type EvidenceFragment struct {
	ChunkID      string  `json:"chunk_id"`
	Text         string  `json:"text"`
	SectionTitle string  `json:"section_title"`
	Score        float64 `json:"score"`
	PaperID      string  `json:"paper_id"`
}

// CompletenessVerdict is the evaluator's judgment of accumulated evidence.
//
// SuggestedKeywords seed the next retrieval round when IsSufficient is
// false. MissingInfo and Reasoning are display-only.
type CompletenessVerdict struct {
	IsSufficient      bool     `json:"is_sufficient"`
	MissingInfo       string   `json:"missing_info"`
	SuggestedKeywords []string `json:"suggested_keywords"`
	Reasoning         string   `json:"reasoning"`
}

// =============================================================================
// Stream Event Types
// =============================================================================

// Event type values emitted over an agent stream, in causal order:
// thinking and retrieval/evaluation progress first, then content
// increments, then sources, then exactly one of done or error.
const (
	EventThinking   = "thinking"
	EventRetrieval  = "retrieval"
	EventEvaluation = "evaluation"
	EventContent    = "content"
	EventSources    = "sources"
	EventDone       = "done"
	EventError      = "error"
)

// SourceInfo describes one evidence fragment cited in the final answer.
//
// TextPreview carries the first MaxSourcePreviewChars characters of the
// fragment followed by "..." when truncated.
type SourceInfo struct {
	ChunkID     string  `json:"chunk_id"`
	Section     string  `json:"section"`
	Score       float64 `json:"score"`
	TextPreview string  `json:"text_preview"`
}

// StreamEvent is the SSE wire envelope for agent progress.
//
// # Description
//
// Every event carries metadata for ordering and integrity verification:
//   - Id: UUID v4 assigned at write time
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of event content
//   - PrevHash: Hash of the previous event, forming a chain
//
// Content carries the textual payload: answer increments on content
// events, progress text on thinking/retrieval/evaluation events. Message
// mirrors the progress text for typed access. The remaining payload
// fields are type-dependent: Sources for the sources event, SessionId
// for done, Error for error. Round is set on retrieval and evaluation
// events.
//
// # Thread Safety
//
// StreamEvent is a value type; writers copy it before populating metadata.
type StreamEvent struct {
	Id        string       `json:"id,omitempty"`
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Message   string       `json:"message,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	SessionId string       `json:"session_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Round     int          `json:"round,omitempty"`
	CreatedAt int64        `json:"created_at,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	PrevHash  string       `json:"prev_hash,omitempty"`
}

// =============================================================================
// Request Types
// =============================================================================

// AgentChatRequest is the body of POST /v1/papers/:paperId/chat/agent/stream.
//
// # Fields
//
//   - Message: Required. The user's question about the paper.
//     Limited to MaxQuestionBytes (SEC-003 compliance).
//   - SessionID: Optional. Continues an existing session; empty starts a
//     new one. Must be a UUID when present.
//   - Provider: Optional LLM backend override ("openai", "ollama", "claude").
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 8192 bytes
//   - SessionID: uuid4 when set
//   - Provider: one of the known backends when set
type AgentChatRequest struct {
	Message   string `json:"message" validate:"required,maxbytes"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,uuid4"`
	Provider  string `json:"provider,omitempty" validate:"omitempty,oneof=openai ollama claude local"`
}

// Validate checks the request against its validation rules.
func (r *AgentChatRequest) Validate() error {
	return agentValidate.Struct(r)
}
