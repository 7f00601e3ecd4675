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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// notFoundAnswer is the fixed reply used when no evidence was retrieved.
// It is produced without a model call and still committed to history.
const notFoundAnswer = "Sorry, I could not find anything in the paper related to your question. " +
	"Try rephrasing it or asking about something else."

// historyContextMessages is how many trailing history messages are shown
// to the classifier and prepended to the answer prompt (about 3 turns).
const historyContextMessages = 6

// historySnippetChars caps each history message shown in the intent prompt.
const historySnippetChars = 200

// buildIntentPrompt creates the intent-classification prompt.
//
// The model is asked for a single JSON object; parseIntentResponse handles
// the cases where it decorates the JSON anyway.
func buildIntentPrompt(question string, sectionTitles []string, history []datatypes.Message) string {
	sectionsText := "(no section structure available)"
	if len(sectionTitles) > 0 {
		var sb strings.Builder
		for _, title := range sectionTitles {
			sb.WriteString("- ")
			sb.WriteString(title)
			sb.WriteString("\n")
		}
		sectionsText = strings.TrimRight(sb.String(), "\n")
	}

	historyText := "(no prior conversation)"
	if len(history) > 0 {
		recent := history
		if len(recent) > historyContextMessages {
			recent = recent[len(recent)-historyContextMessages:]
		}
		var parts []string
		for _, msg := range recent {
			role := "User"
			if msg.Role == datatypes.RoleAssistant {
				role = "Assistant"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", role, truncateString(msg.Content, historySnippetChars)))
		}
		historyText = strings.Join(parts, "\n")
	}

	return fmt.Sprintf(`You are an expert academic paper analyst. Analyze the intent of the user's question.

## Paper Section Structure
%s

## Conversation History
%s

## Current User Question
%s

## Task
Analyze the intent of the question and return a result in exactly this JSON format:

{"category": "<intent category>", "target_sections": ["<section 1>", "<section 2>"], "keywords": ["<keyword 1>", "<keyword 2>", "<keyword 3>"], "reasoning": "<brief reasoning>"}

## Intent Categories
- contribution: asks about the paper's main contributions, innovations, novelty
- method: asks about the research method, technical approach, algorithm design
- experiment: asks about experimental setup, results, datasets, evaluation metrics
- comparison: asks about comparisons with other methods, baselines, performance differences
- motivation: asks about research motivation, problem background, why this research was done
- implementation: asks about concrete implementation details, code, hyperparameters
- general: general questions such as abstract, overview, anything else

## Requirements
1. target_sections should pick the 1-3 most relevant sections from the paper structure
2. keywords should be 3-5 retrieval keywords or key phrases
3. reasoning should briefly explain the analysis

Return the JSON directly, with no prefix or suffix text.`, sectionsText, historyText, question)
}

// buildEvaluationPrompt creates the completeness-evaluation prompt from the
// question and the already-formatted evidence rendering.
func buildEvaluationPrompt(question, formattedEvidence string) string {
	return fmt.Sprintf(`You are an expert at judging information completeness. Evaluate whether the retrieved content below is sufficient to answer the user's question.

## Original User Question
%s

## Retrieved Content
%s

## Task
Evaluate whether the content above is sufficient to answer the question, and return a result in exactly this JSON format:

{"is_sufficient": true, "missing_info": "<if insufficient, what is missing>", "suggested_keywords": ["<additional retrieval keyword 1>", "<keyword 2>"], "reasoning": "<brief reasoning>"}

## Evaluation Criteria
1. Does the information directly answer the core question
2. Is there enough detail and context
3. Is content from other sections still needed

Return the JSON directly, with no prefix or suffix text.`, question, formattedEvidence)
}

// buildAnswerPrompt creates the final synthesis prompt.
func buildAnswerPrompt(formattedEvidence, question string) string {
	return fmt.Sprintf(`You are an expert academic paper assistant. Answer the user's question based on the provided paper excerpts.

## Paper Excerpts
%s

## User Question
%s

## Answer Requirements
1. Answer based on the provided excerpts; do not invent information
2. If the excerpts contain no relevant information, say so explicitly
3. Use clear and precise academic language
4. If the question has multiple aspects, answer point by point
5. Quote the paper text where helpful

Give a detailed and accurate answer:`, formattedEvidence, question)
}

// formatEvidence renders accumulated fragments for prompting, in
// accumulation order: index, section, score, then the fragment text.
func formatEvidence(fragments []datatypes.EvidenceFragment) string {
	parts := make([]string, 0, len(fragments))
	for i, frag := range fragments {
		section := frag.SectionTitle
		if section == "" {
			section = "unknown section"
		}
		parts = append(parts, fmt.Sprintf("[Fragment %d] (section: %s, relevance: %.3f)\n%s\n",
			i+1, section, frag.Score, frag.Text))
	}
	return strings.Join(parts, "\n---\n\n")
}

// firstRunes returns the first n characters of s. Cuts land on rune
// boundaries so multibyte text never yields invalid UTF-8.
func firstRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// truncateString shortens s to maxLen characters, appending an ellipsis
// when anything was cut.
func truncateString(s string, maxLen int) string {
	truncated := firstRunes(s, maxLen)
	if len(truncated) == len(s) {
		return s
	}
	return truncated + "..."
}

// extractJSON pulls the first JSON object out of an LLM response.
//
// Strips an optional surrounding markdown code fence first, then takes the
// substring between the first '{' and the last '}'.
func extractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		if len(lines) > 1 {
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[1 : len(lines)-1]
			} else {
				lines = lines[1:]
			}
			response = strings.TrimSpace(strings.Join(lines, "\n"))
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no valid JSON found in response")
	}
	return response[start : end+1], nil
}
