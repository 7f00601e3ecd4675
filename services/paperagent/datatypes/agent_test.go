// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// AgentChatRequest Validation
// =============================================================================

func TestAgentChatRequest_Validate(t *testing.T) {
	t.Run("ValidMinimal", func(t *testing.T) {
		req := AgentChatRequest{Message: "What is the main contribution?"}
		assert.NoError(t, req.Validate())
	})

	t.Run("ValidWithSessionAndProvider", func(t *testing.T) {
		req := AgentChatRequest{
			Message:   "And the decoder?",
			SessionID: "6ba7b810-9dad-41d1-80b4-00c04fd430c8",
			Provider:  "ollama",
		}
		assert.NoError(t, req.Validate())
	})

	t.Run("EmptyMessage", func(t *testing.T) {
		req := AgentChatRequest{}
		assert.Error(t, req.Validate())
	})

	t.Run("MessageAtLimit", func(t *testing.T) {
		req := AgentChatRequest{Message: strings.Repeat("a", MaxQuestionBytes)}
		assert.NoError(t, req.Validate())
	})

	t.Run("MessageOverLimit", func(t *testing.T) {
		req := AgentChatRequest{Message: strings.Repeat("a", MaxQuestionBytes+1)}
		assert.Error(t, req.Validate())
	})

	t.Run("MultiByteCountsBytes", func(t *testing.T) {
		// 3 bytes per rune; byte length is what must stay bounded.
		req := AgentChatRequest{Message: strings.Repeat("日", MaxQuestionBytes/3+1)}
		assert.Error(t, req.Validate())
	})

	t.Run("BadSessionID", func(t *testing.T) {
		req := AgentChatRequest{Message: "hi", SessionID: "not-a-uuid"}
		assert.Error(t, req.Validate())
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		req := AgentChatRequest{Message: "hi", Provider: "grok"}
		assert.Error(t, req.Validate())
	})
}

// =============================================================================
// Intent Categories
// =============================================================================

func TestValidCategory(t *testing.T) {
	valid := []IntentCategory{
		IntentContribution, IntentMethod, IntentExperiment,
		IntentComparison, IntentMotivation, IntentImplementation, IntentGeneral,
	}
	for _, c := range valid {
		assert.True(t, ValidCategory(c), "expected %q to be valid", c)
	}

	assert.False(t, ValidCategory("methodology"))
	assert.False(t, ValidCategory(""))
}

// =============================================================================
// GraphQL Response Parsing
// =============================================================================

func TestParseGraphQLResponse(t *testing.T) {
	t.Run("ParsesChunks", func(t *testing.T) {
		resp := &models.GraphQLResponse{
			Data: map[string]models.JSONObject{
				"Get": map[string]any{
					"PaperChunk": []any{
						map[string]any{
							"chunk_id":      "c1",
							"text":          "We propose a new attention mechanism.",
							"section_title": "Introduction",
							"paper_id":      "paper-1",
						},
					},
				},
			},
		}

		parsed, err := ParseGraphQLResponse[PaperChunkQueryResponse](resp)
		require.NoError(t, err)
		require.Len(t, parsed.Get.PaperChunk, 1)
		assert.Equal(t, "c1", parsed.Get.PaperChunk[0].ChunkID)
		assert.Equal(t, "Introduction", parsed.Get.PaperChunk[0].SectionTitle)
	})

	t.Run("NilResponse", func(t *testing.T) {
		_, err := ParseGraphQLResponse[PaperChunkQueryResponse](nil)
		assert.Error(t, err)
	})

	t.Run("EmptyData", func(t *testing.T) {
		parsed, err := ParseGraphQLResponse[PaperChunkQueryResponse](&models.GraphQLResponse{})
		require.NoError(t, err)
		assert.Empty(t, parsed.Get.PaperChunk)
	})
}
