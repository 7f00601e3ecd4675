// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package paperstore provides Weaviate-backed retrieval over ingested
// papers: similarity search on the PaperChunk class and section metadata
// from the PaperSection class.
package paperstore

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

var tracer = otel.Tracer("aleutian.paperagent.paperstore")

// EmbeddingProvider computes vector embeddings for retrieval queries.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchConfig tunes chunk retrieval.
type SearchConfig struct {
	// TopK is the number of chunks requested per keyword search.
	TopK int
	// MaxEmbedLength caps the text sent to the embedding service.
	MaxEmbedLength int
	// MaxSections caps the number of section titles fetched per paper.
	MaxSections int
}

// DefaultSearchConfig returns production defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:           5,
		MaxEmbedLength: 2000,
		MaxSections:    50,
	}
}

// WeaviatePaperSearcher retrieves paper chunks and section metadata.
//
// # Description
//
// WeaviatePaperSearcher embeds each keyword via the configured
// EmbeddingProvider and runs a nearVector query against the PaperChunk
// class, filtered to a single paper. Section titles come from the
// PaperSection class, ordered by section_order.
//
// # Thread Safety
//
// WeaviatePaperSearcher is safe for concurrent use. The underlying
// Weaviate client handles connection pooling.
//
// # Example
//
//	embedder := NewDatatypesEmbedder()
//	searcher := NewWeaviatePaperSearcher(client, embedder, DefaultSearchConfig())
//	chunks, err := searcher.Search(ctx, "attention mechanism", "paper-42", 5)
type WeaviatePaperSearcher struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
	config   SearchConfig
}

// NewWeaviatePaperSearcher creates a paper searcher. Config values are
// validated and corrected if necessary.
func NewWeaviatePaperSearcher(client *weaviate.Client, embedder EmbeddingProvider, config SearchConfig) *WeaviatePaperSearcher {
	return &WeaviatePaperSearcher{
		client:   client,
		embedder: embedder,
		config:   validateSearchConfig(config),
	}
}

// validateSearchConfig validates and corrects search configuration values.
// Logs warnings for invalid values and applies sensible defaults.
func validateSearchConfig(config SearchConfig) SearchConfig {
	defaults := DefaultSearchConfig()

	if config.TopK < 1 {
		slog.Warn("Invalid TopK config, using default",
			"provided", config.TopK, "default", defaults.TopK)
		config.TopK = defaults.TopK
	}

	if config.MaxEmbedLength < 1 {
		slog.Warn("Invalid MaxEmbedLength config, using default",
			"provided", config.MaxEmbedLength, "default", defaults.MaxEmbedLength)
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}

	if config.MaxSections < 1 {
		slog.Warn("Invalid MaxSections config, using default",
			"provided", config.MaxSections, "default", defaults.MaxSections)
		config.MaxSections = defaults.MaxSections
	}

	return config
}

// Search retrieves the topK chunks of one paper most similar to keyword.
//
// # Description
//
// Embeds the keyword and runs a nearVector query against the PaperChunk
// class, filtered by paper_id. Results arrive ordered by similarity; the
// Weaviate certainty (always [0, 1]) is reported as the fragment score.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - keyword: Retrieval phrase to embed and search with.
//   - paperID: The paper to search within.
//   - topK: Maximum number of chunks to return. Values < 1 fall back to
//     the configured TopK.
//
// # Outputs
//
//   - []datatypes.EvidenceFragment: Matching chunks, best first. Empty
//     slice when nothing matches.
//   - error: Non-nil if embedding or the Weaviate query fails.
//
// # Limitations
//
//   - Short keywords have weak semantic signal.
//
// # Assumptions
//
//   - The paper has been ingested into the PaperChunk class.
//   - Embedding dimensions match stored vectors.
func (s *WeaviatePaperSearcher) Search(ctx context.Context, keyword, paperID string, topK int) ([]datatypes.EvidenceFragment, error) {
	ctx, span := tracer.Start(ctx, "PaperSearch")
	defer span.End()

	if topK < 1 {
		topK = s.config.TopK
	}

	slog.Debug("Searching paper chunks",
		"paperID", paperID,
		"keyword", keyword,
		"topK", topK)

	// 1. Truncate keyword if needed. Cut on a rune boundary so multibyte
	// text never reaches the embedder as invalid UTF-8.
	truncated := keyword
	if utf8.RuneCountInString(keyword) > s.config.MaxEmbedLength {
		truncated = string([]rune(keyword)[:s.config.MaxEmbedLength])
		slog.Debug("Truncated keyword for embedding", "originalLen", len(keyword), "truncatedLen", len(truncated))
	}

	// 2. Get embedding for the keyword
	vector, err := s.embedder.Embed(ctx, truncated)
	if err != nil {
		slog.Error("Failed to embed keyword for paper search", "error", err)
		return nil, fmt.Errorf("failed to embed keyword: %w", err)
	}

	// 3. Build the filter: paper_id == paperID
	paperFilter := filters.Where().
		WithPath([]string{"paper_id"}).
		WithOperator(filters.Equal).
		WithValueString(paperID)

	// 4. Build the NearVector search
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// 5. Define fields to retrieve
	// Note: We request certainty (always [0,1]) instead of distance which varies by metric
	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "text"},
		{Name: "section_title"},
		{Name: "paper_id"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	// 6. Execute the search
	result, err := s.client.GraphQL().Get().
		WithClassName("PaperChunk").
		WithFields(fields...).
		WithWhere(paperFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)

	if err != nil {
		slog.Error("Failed to search PaperChunk class", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	// 7. Parse the results using typed parser
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PaperChunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse search results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	fragments := parseChunkResults(parsed)
	slog.Debug("Found paper chunks", "count", len(fragments))
	return fragments, nil
}

// SectionTitles returns the ordered section titles of a paper.
//
// # Description
//
// Queries the PaperSection class filtered by paper_id and sorted by
// section_order ascending. An un-ingested or section-less paper yields an
// empty slice, not an error; intent classification degrades gracefully.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - paperID: The paper whose outline to fetch.
//
// # Outputs
//
//   - []string: Section titles in document order. May be empty.
//   - error: Non-nil if the Weaviate query fails.
func (s *WeaviatePaperSearcher) SectionTitles(ctx context.Context, paperID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "PaperSectionTitles")
	defer span.End()

	whereFilter := filters.Where().
		WithPath([]string{"paper_id"}).
		WithOperator(filters.Equal).
		WithValueString(paperID)

	sortBy := graphql.Sort{
		Path:  []string{"section_order"},
		Order: graphql.Asc,
	}

	fields := []graphql.Field{
		{Name: "paper_id"},
		{Name: "title"},
		{Name: "section_order"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName("PaperSection").
		WithFields(fields...).
		WithWhere(whereFilter).
		WithSort(sortBy).
		WithLimit(s.config.MaxSections).
		Do(ctx)

	if err != nil {
		slog.Error("Failed to retrieve paper sections", "error", err)
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PaperSectionQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse section results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	titles := make([]string, 0, len(parsed.Get.PaperSection))
	for _, sec := range parsed.Get.PaperSection {
		if sec.Title != "" {
			titles = append(titles, sec.Title)
		}
	}
	slog.Debug("Retrieved paper sections", "count", len(titles))
	return titles, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// parseChunkResults converts PaperChunkQueryResponse into evidence
// fragments, using certainty directly as the score.
func parseChunkResults(resp *datatypes.PaperChunkQueryResponse) []datatypes.EvidenceFragment {
	if resp == nil {
		return []datatypes.EvidenceFragment{}
	}

	fragments := make([]datatypes.EvidenceFragment, 0, len(resp.Get.PaperChunk))
	for _, chunk := range resp.Get.PaperChunk {
		var score float64
		if chunk.Additional.Certainty != nil {
			score = *chunk.Additional.Certainty
		}

		chunkID := chunk.ChunkID
		if chunkID == "" {
			// Fall back to the Weaviate object id for papers ingested
			// before chunk_id was added to the schema.
			chunkID = chunk.Additional.ID
		}

		fragments = append(fragments, datatypes.EvidenceFragment{
			ChunkID:      chunkID,
			Text:         chunk.Text,
			SectionTitle: chunk.SectionTitle,
			Score:        score,
			PaperID:      chunk.PaperID,
		})
	}

	return fragments
}

// =============================================================================
// DatatypesEmbedder - Wrapper for existing EmbeddingResponse.Get()
// =============================================================================

// DatatypesEmbedder wraps datatypes.EmbeddingResponse.Get() to implement
// EmbeddingProvider.
//
// # Thread Safety
//
// DatatypesEmbedder is safe for concurrent use. Each call creates a new
// EmbeddingResponse instance.
type DatatypesEmbedder struct{}

// NewDatatypesEmbedder creates an embedding provider backed by the
// embedding service at EMBEDDING_SERVICE_URL.
func NewDatatypesEmbedder() *DatatypesEmbedder {
	return &DatatypesEmbedder{}
}

// Embed computes a vector embedding for the given text.
func (e *DatatypesEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var embResp datatypes.EmbeddingResponse
	if err := embResp.Get(ctx, text); err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return embResp.Vector, nil
}
