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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// EvaluatorConfig holds configuration for completeness evaluation.
type EvaluatorConfig struct {
	// MaxTokens is the response budget for the evaluation call.
	// Default: 500 (AGENT_EVALUATION_MAX_TOKENS)
	MaxTokens int

	// EvidenceCharBudget caps the formatted evidence shown to the
	// evaluator. Earlier fragments are kept; fragments past the budget are
	// omitted from this prompt only, they stay in the accumulated set.
	// Default: 4000 (AGENT_EVIDENCE_CHAR_BUDGET)
	EvidenceCharBudget int
}

// DefaultEvaluatorConfig returns the default evaluator configuration.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		MaxTokens:          getEnvInt("AGENT_EVALUATION_MAX_TOKENS", 500),
		EvidenceCharBudget: getEnvInt("AGENT_EVIDENCE_CHAR_BUDGET", 4000),
	}
}

// CompletenessEvaluator judges whether accumulated evidence suffices to
// answer the question.
//
// # Thread Safety
//
// CompletenessEvaluator is safe for concurrent use.
type CompletenessEvaluator struct {
	generate GenerateFunc
	config   EvaluatorConfig
}

// NewCompletenessEvaluator creates an evaluator using the given generate function.
func NewCompletenessEvaluator(generate GenerateFunc, config EvaluatorConfig) *CompletenessEvaluator {
	return &CompletenessEvaluator{
		generate: generate,
		config:   config,
	}
}

// Evaluate judges the accumulated evidence against the question.
//
// # Description
//
// The formatted evidence is truncated to the configured character budget
// and sent with the question in one non-streaming call. The verdict is
// fail-open: if the model's JSON cannot be parsed, the returned verdict
// has IsSufficient=true so the retrieval loop terminates rather than
// looping on a parsing bug. Only a failed generation call itself is an
// error.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The original user question.
//   - formattedEvidence: Rendering of the full accumulated evidence set.
//
// # Outputs
//
//   - datatypes.CompletenessVerdict: Parsed or fail-open verdict.
//   - error: Non-nil only when the generation call fails.
func (e *CompletenessEvaluator) Evaluate(ctx context.Context, question, formattedEvidence string) (datatypes.CompletenessVerdict, error) {
	formattedEvidence = firstRunes(formattedEvidence, e.config.EvidenceCharBudget)

	prompt := buildEvaluationPrompt(question, formattedEvidence)

	response, err := e.generate(ctx, prompt, e.config.MaxTokens)
	if err != nil {
		return datatypes.CompletenessVerdict{}, fmt.Errorf("completeness evaluation call failed: %w", err)
	}

	verdict, parseErr := parseEvaluationResponse(response)
	if parseErr != nil {
		slog.Warn("Failed to parse evaluation response, failing open",
			"error", parseErr, "response_snippet", truncateString(response, 200))
		return datatypes.CompletenessVerdict{
			IsSufficient:      true,
			SuggestedKeywords: []string{},
			Reasoning:         "parse failure, defaulting to sufficient",
		}, nil
	}
	return verdict, nil
}

// parseEvaluationResponse extracts a CompletenessVerdict from the model's
// JSON response. A missing is_sufficient field defaults to true.
func parseEvaluationResponse(response string) (datatypes.CompletenessVerdict, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return datatypes.CompletenessVerdict{}, err
	}

	raw := struct {
		IsSufficient      *bool    `json:"is_sufficient"`
		MissingInfo       string   `json:"missing_info"`
		SuggestedKeywords []string `json:"suggested_keywords"`
		Reasoning         string   `json:"reasoning"`
	}{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return datatypes.CompletenessVerdict{}, fmt.Errorf("unmarshal verdict JSON: %w", err)
	}

	sufficient := true
	if raw.IsSufficient != nil {
		sufficient = *raw.IsSufficient
	}
	if raw.SuggestedKeywords == nil {
		raw.SuggestedKeywords = []string{}
	}

	return datatypes.CompletenessVerdict{
		IsSufficient:      sufficient,
		MissingInfo:       raw.MissingInfo,
		SuggestedKeywords: raw.SuggestedKeywords,
		Reasoning:         raw.Reasoning,
	}, nil
}
