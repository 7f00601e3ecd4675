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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("PaperChunk").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[PaperChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.PaperChunk {
//	    fmt.Println(c.ChunkID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Paper Chunk Query Types
// =============================================================================

// PaperChunkQueryResponse represents the response from querying the
// PaperChunk class.
type PaperChunkQueryResponse struct {
	Get struct {
		PaperChunk []PaperChunkResult `json:"PaperChunk"`
	} `json:"Get"`
}

// PaperChunkResult is a single chunk from a nearVector query.
//
// # Fields
//
//   - ChunkID: Stable chunk identity assigned at ingestion.
//   - Text: Chunk body text.
//   - SectionTitle: Title of the section the chunk came from.
//   - PaperID: Owning paper.
//   - Additional.ID: Weaviate object id, the chunk identity fallback.
//   - Additional.Certainty: Weaviate similarity certainty (0-1, higher is closer).
type PaperChunkResult struct {
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	SectionTitle string `json:"section_title"`
	PaperID      string `json:"paper_id"`
	Additional   struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// PaperSectionQueryResponse represents the response from querying the
// PaperSection class.
type PaperSectionQueryResponse struct {
	Get struct {
		PaperSection []PaperSectionResult `json:"PaperSection"`
	} `json:"Get"`
}

// PaperSectionResult is one section-title row, ordered by SectionOrder.
type PaperSectionResult struct {
	PaperID      string `json:"paper_id"`
	Title        string `json:"title"`
	SectionOrder int    `json:"section_order"`
}

// =============================================================================
// Embedding Service Client
// =============================================================================

type EmbeddingRequest struct {
	Text string `json:"text"`
}

type EmbeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

var embeddingHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Get fetches the embedding vector for text from the embedding service
// at EMBEDDING_SERVICE_URL, populating the receiver.
func (e *EmbeddingResponse) Get(ctx context.Context, text string) error {
	embeddingServiceURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingServiceURL == "" {
		return fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}

	reqBody, err := json.Marshal(EmbeddingRequest{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, embeddingServiceURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to setup embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := embeddingHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make the request to the embedding service: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("the response was not a 200 OK from the embedding service: %s, %d",
			string(bodyBytes), resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, e); err != nil {
		return fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding service returned an empty vector")
	}
	return nil
}
