// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains stream readers that consume io.Reader sources
// and emit parsed events via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and event sequencing. They use parsers to convert
//	bytes to events, but do not render output. This separation enables
//	flexible composition with different renderers.

package ux

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"
)

// StreamCallback receives each parsed event. Returning an error stops
// the read.
type StreamCallback func(event StreamEvent) error

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads streaming agent responses and invokes callbacks.
//
// Thread Safety:
//
//	A single Read/ReadAll operation must not be called concurrently on
//	the same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	err := reader.Read(ctx, httpResp.Body, func(event ux.StreamEvent) error {
//	    if event.Type == ux.StreamEventContent {
//	        fmt.Print(event.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event. The
	// stream is complete at EOF, a terminal event, context cancellation,
	// or a callback error.
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream into an aggregated StreamResult.
	// A server-side error event is captured in StreamResult.Error and
	// does not produce a non-nil return error.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a StreamReader for SSE format.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{parser: parser}
}

// Read processes an SSE stream, invoking callback for each event.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	eventIndex := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		event.Index = eventIndex
		eventIndex++

		if err := callback(*event); err != nil {
			return err
		}

		if event.IsTerminal() {
			return nil
		}
	}

	return scanner.Err()
}

// ReadAll reads the entire stream and returns the aggregated result:
// concatenated answer, evidence sources, session id, and the raw event
// list for chain verification.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	var answer strings.Builder

	err := r.Read(ctx, reader, func(event StreamEvent) error {
		result.TotalEvents++
		result.Events = append(result.Events, event)

		if event.Round > result.Rounds {
			result.Rounds = event.Round
		}

		switch event.Type {
		case StreamEventContent:
			if result.FirstTokenAt == 0 {
				result.FirstTokenAt = time.Now().UnixMilli()
			}
			answer.WriteString(event.Content)
			result.TotalTokens++

		case StreamEventSources:
			result.Sources = append(result.Sources, event.Sources...)

		case StreamEventDone:
			result.SessionID = event.SessionID
			result.CompletedAt = time.Now().UnixMilli()

		case StreamEventError:
			result.Error = event.Error
			result.CompletedAt = time.Now().UnixMilli()
		}
		return nil
	})

	result.Answer = answer.String()
	if result.CompletedAt == 0 {
		result.CompletedAt = time.Now().UnixMilli()
	}
	return result, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
