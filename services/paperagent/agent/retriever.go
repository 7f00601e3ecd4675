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
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// maxKeywordsPerRound bounds retrieval fan-out cost regardless of how many
// keywords an upstream component proposes.
const maxKeywordsPerRound = 3

// SearchProvider is the similarity-search capability scoped to one paper.
// paperstore.WeaviatePaperSearcher is the production implementation.
type SearchProvider interface {
	Search(ctx context.Context, keyword, paperID string, topK int) ([]datatypes.EvidenceFragment, error)
}

// SectionLister is the document-metadata capability: ordered section
// titles for a paper, possibly empty.
type SectionLister interface {
	SectionTitles(ctx context.Context, paperID string) ([]string, error)
}

// Retriever runs keyword searches and maintains cross-round deduplication.
//
// # Thread Safety
//
// Retriever is stateless and safe for concurrent use; the accumulated
// evidence set lives in the exchange, not here.
type Retriever struct {
	searcher SearchProvider
}

// NewRetriever creates a Retriever over the given search provider.
func NewRetriever(searcher SearchProvider) *Retriever {
	return &Retriever{searcher: searcher}
}

// MultiSearch runs up to maxKeywordsPerRound keyword searches in parallel.
//
// # Description
//
// The searches are independent reads, dispatched concurrently and joined
// before returning. Results are concatenated in keyword-priority order
// (not completion order), then deduplicated by fragment id keeping the
// first occurrence. The result is NOT re-sorted by score: within one
// round, ordering follows keyword priority and per-search ranking.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - keywords: Retrieval phrases; only the first 3 are used.
//   - paperID: The paper to search within.
//   - topK: Per-keyword result cap.
//
// # Outputs
//
//   - []datatypes.EvidenceFragment: Deduplicated results in keyword order.
//   - error: Non-nil if any search fails.
func (r *Retriever) MultiSearch(ctx context.Context, keywords []string, paperID string, topK int) ([]datatypes.EvidenceFragment, error) {
	if len(keywords) > maxKeywordsPerRound {
		keywords = keywords[:maxKeywordsPerRound]
	}
	if len(keywords) == 0 {
		return []datatypes.EvidenceFragment{}, nil
	}

	results := make([][]datatypes.EvidenceFragment, len(keywords))
	g, gctx := errgroup.WithContext(ctx)
	for i, keyword := range keywords {
		g.Go(func() error {
			fragments, err := r.searcher.Search(gctx, keyword, paperID, topK)
			if err != nil {
				return fmt.Errorf("search for keyword %q failed: %w", keyword, err)
			}
			results[i] = fragments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Concatenate in keyword-priority order, then dedupe first-seen.
	var combined []datatypes.EvidenceFragment
	for _, fragments := range results {
		combined = append(combined, fragments...)
	}
	merged, _ := MergeFragments(nil, nil, combined)

	slog.Debug("Multi-keyword search complete",
		"keywords", len(keywords), "raw", len(combined), "deduplicated", len(merged))
	return merged, nil
}

// MergeFragments adds incoming fragments to the accumulated set with
// id-based deduplication.
//
// # Description
//
// The merge only adds, never removes or reorders: accumulated fragments
// keep their positions and new unique fragments are appended in incoming
// order. Fragments without an id are dropped. seen maps fragment ids
// already in accumulated; passing nil builds it from accumulated. The
// updated set and map are returned so the caller can thread them through
// successive rounds.
func MergeFragments(accumulated []datatypes.EvidenceFragment, seen map[string]bool,
	incoming []datatypes.EvidenceFragment) ([]datatypes.EvidenceFragment, map[string]bool) {

	if seen == nil {
		seen = make(map[string]bool, len(accumulated))
		for _, frag := range accumulated {
			seen[frag.ChunkID] = true
		}
	}
	for _, frag := range incoming {
		if frag.ChunkID == "" || seen[frag.ChunkID] {
			continue
		}
		seen[frag.ChunkID] = true
		accumulated = append(accumulated, frag)
	}
	return accumulated, seen
}
