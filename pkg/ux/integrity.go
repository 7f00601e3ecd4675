// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements client-side verification of the event hash chain
// emitted by the agent service.
//
// Hash Chain Design:
//
//	Each StreamEvent has a Hash computed from its content and a PrevHash
//	linking to the previous event:
//
//	Event[0] → Event[1] → Event[2] → ... → Event[N]
//
//	If any event is modified, dropped, or injected in transit, the
//	recomputed chain no longer matches. Keepalive comments are never
//	part of the chain.

package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// secureHashEqual performs constant-time comparison of two hash strings.
// This prevents timing attacks where an attacker could determine how many
// leading characters of a hash are correct by measuring response times.
func secureHashEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// =============================================================================
// Types
// =============================================================================

// ChainViolation describes one break found while walking the chain.
type ChainViolation struct {
	// EventIndex is the position of the offending event in the stream.
	EventIndex int

	// Kind is "hash_mismatch" when the recomputed hash differs from the
	// received one, or "chain_break" when PrevHash does not link to the
	// prior event.
	Kind string

	// Detail is a human-readable description of the violation.
	Detail string
}

// ChainVerificationResult is the outcome of verifying a full stream.
type ChainVerificationResult struct {
	// Valid is true when every event hashed correctly and linked to its
	// predecessor.
	Valid bool

	// EventsChecked counts the events that carried a hash.
	EventsChecked int

	// Violations lists every break found. Empty when Valid.
	Violations []ChainViolation
}

// ChainVerifier validates the integrity chain of a received stream.
type ChainVerifier interface {
	Verify(events []StreamEvent) *ChainVerificationResult
}

// =============================================================================
// SHA-256 Verifier
// =============================================================================

type sha256ChainVerifier struct{}

// NewChainVerifier creates the standard SHA-256 chain verifier.
func NewChainVerifier() ChainVerifier {
	return &sha256ChainVerifier{}
}

// Verify walks the event list in order, recomputing each hash and
// checking the PrevHash linkage between consecutive events. An event
// without a hash is reported and breaks the chain for its successors.
func (v *sha256ChainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{Valid: true}

	prevHash := ""
	for i, event := range events {
		if event.Hash == "" {
			result.Valid = false
			result.Violations = append(result.Violations, ChainViolation{
				EventIndex: i,
				Kind:       "chain_break",
				Detail:     "event carries no hash",
			})
			continue
		}
		result.EventsChecked++

		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.Violations = append(result.Violations, ChainViolation{
				EventIndex: i,
				Kind:       "chain_break",
				Detail:     fmt.Sprintf("prev_hash does not match event %d", i-1),
			})
		}

		computed := ComputeEventHash(event)
		if !secureHashEqual(computed, event.Hash) {
			result.Valid = false
			result.Violations = append(result.Violations, ChainViolation{
				EventIndex: i,
				Kind:       "hash_mismatch",
				Detail:     "recomputed hash differs from the one received",
			})
		}

		prevHash = event.Hash
	}

	return result
}

// ComputeEventHash recomputes an event's hash exactly as the agent
// service does: SHA-256 over a pipe-joined rendering of the metadata
// and content fields, with sources serialized to JSON.
func ComputeEventHash(event StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%d|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Round,
		event.Content,
		event.Message,
		event.Error,
		event.SessionID,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Display
// =============================================================================

// FormatForDisplay renders the verification outcome for the terminal.
func (r *ChainVerificationResult) FormatForDisplay() string {
	if GetPersonality().Level == PersonalityMachine {
		if r.Valid {
			return fmt.Sprintf("INTEGRITY: valid (%d events)", r.EventsChecked)
		}
		return fmt.Sprintf("INTEGRITY: invalid (%d violations)", len(r.Violations))
	}

	var sb strings.Builder
	if r.Valid {
		sb.WriteString(Styles.Success.Render(
			fmt.Sprintf("%s Integrity chain verified (%d events)", IconSuccess, r.EventsChecked)))
		return sb.String()
	}

	sb.WriteString(Styles.Error.Render(
		fmt.Sprintf("%s Integrity chain INVALID (%d violations)", IconError, len(r.Violations))))
	for _, violation := range r.Violations {
		sb.WriteString("\n")
		sb.WriteString(Styles.Muted.Render(
			fmt.Sprintf("  event %d: %s (%s)", violation.EventIndex, violation.Detail, violation.Kind)))
	}
	return sb.String()
}
