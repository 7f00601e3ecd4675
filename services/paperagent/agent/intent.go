// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the retrieval-orchestration agent: intent
// classification, bounded retrieve/evaluate rounds, streaming answer
// synthesis, and the ordered event stream tying them together.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// GenerateFunc is a function type for LLM text generation.
//
// # Description
//
// Using a function type instead of an interface allows callers to pass
// a simple closure, eliminating the need for adapter structs when the
// underlying LLM client has a different signature.
//
// # Example
//
//	generateFunc := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
//	    params := llm.GenerationParams{MaxTokens: &maxTokens}
//	    return client.Generate(ctx, prompt, params)
//	}
//	classifier := NewIntentClassifier(generateFunc, DefaultIntentConfig())
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// IntentConfig holds configuration for intent classification.
type IntentConfig struct {
	// MaxTokens is the response budget for the classification call.
	// Default: 800 (AGENT_INTENT_MAX_TOKENS)
	MaxTokens int

	// QuestionKeywordChars is how much of the question becomes the fallback
	// keyword when the model's JSON cannot be parsed.
	QuestionKeywordChars int
}

// DefaultIntentConfig returns the default intent configuration.
// MaxTokens can be overridden via AGENT_INTENT_MAX_TOKENS.
func DefaultIntentConfig() IntentConfig {
	return IntentConfig{
		MaxTokens:            getEnvInt("AGENT_INTENT_MAX_TOKENS", 800),
		QuestionKeywordChars: 50,
	}
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// IntentClassifier maps a question plus paper outline and recent history
// to a structured Intent.
//
// # Thread Safety
//
// IntentClassifier is safe for concurrent use.
type IntentClassifier struct {
	generate GenerateFunc
	config   IntentConfig
}

// NewIntentClassifier creates a classifier using the given generate function.
func NewIntentClassifier(generate GenerateFunc, config IntentConfig) *IntentClassifier {
	return &IntentClassifier{
		generate: generate,
		config:   config,
	}
}

// Classify analyzes the user question.
//
// # Description
//
// Builds a structured prompt from the question, the paper's section
// titles, and the last few history messages, then asks the model for one
// JSON object. The parsing contract is recoverable: an unparseable
// response degrades to a general-category intent whose single keyword is
// the start of the question. Only a failed generation call itself is an
// error.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The user's question.
//   - sectionTitles: Paper outline; may be empty.
//   - history: Session history; only the trailing messages are used.
//
// # Outputs
//
//   - datatypes.Intent: Parsed or fallback intent. Never zero-valued on
//     nil error.
//   - error: Non-nil only when the generation call fails.
func (c *IntentClassifier) Classify(ctx context.Context, question string, sectionTitles []string,
	history []datatypes.Message) (datatypes.Intent, error) {

	prompt := buildIntentPrompt(question, sectionTitles, history)

	response, err := c.generate(ctx, prompt, c.config.MaxTokens)
	if err != nil {
		return datatypes.Intent{}, fmt.Errorf("intent classification call failed: %w", err)
	}

	intent, parseErr := parseIntentResponse(response)
	if parseErr != nil {
		slog.Warn("Failed to parse intent response, using fallback",
			"error", parseErr, "response_snippet", truncateString(response, 200))
		return c.fallbackIntent(question), nil
	}
	return intent, nil
}

// fallbackIntent is the documented parse-failure default: general
// category with the start of the question as the only keyword.
func (c *IntentClassifier) fallbackIntent(question string) datatypes.Intent {
	keyword := firstRunes(question, c.config.QuestionKeywordChars)
	return datatypes.Intent{
		Category:       datatypes.IntentGeneral,
		TargetSections: []string{},
		Keywords:       []string{keyword},
		Reasoning:      "parse failure default",
	}
}

// parseIntentResponse extracts an Intent from the model's JSON response.
// Unknown categories normalize to general; missing lists become empty.
func parseIntentResponse(response string) (datatypes.Intent, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return datatypes.Intent{}, err
	}

	var raw struct {
		Category       string   `json:"category"`
		TargetSections []string `json:"target_sections"`
		Keywords       []string `json:"keywords"`
		Reasoning      string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return datatypes.Intent{}, fmt.Errorf("unmarshal intent JSON: %w", err)
	}

	category := datatypes.IntentCategory(strings.ToLower(strings.TrimSpace(raw.Category)))
	if !datatypes.ValidCategory(category) {
		category = datatypes.IntentGeneral
	}
	if raw.TargetSections == nil {
		raw.TargetSections = []string{}
	}
	if raw.Keywords == nil {
		raw.Keywords = []string{}
	}

	return datatypes.Intent{
		Category:       category,
		TargetSections: raw.TargetSections,
		Keywords:       raw.Keywords,
		Reasoning:      raw.Reasoning,
	}, nil
}
