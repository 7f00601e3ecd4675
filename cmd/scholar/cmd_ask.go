// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScholar/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	askPaperID   string // Paper to ask about (required)
	askSessionID string // Resume an existing session
	askProvider  string // Backend provider hint (openai/ollama/claude/local)
	askVerify    bool   // Verify the event hash chain after streaming
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// askCmd streams an agent answer about one paper.
//
// # Description
//
// Sends the question to the agent streaming endpoint and renders the
// retrieval progress, the answer tokens, and the cited sources as they
// arrive. With --verify, recomputes the SSE hash chain after the stream
// completes and reports any tampering.
//
// # Examples
//
//	scholar ask --paper attention-2017 "How does multi-head attention work?"
//	scholar ask --paper attention-2017 --session <id> "And the decoder?"
//	echo "What datasets were used?" | scholar ask --paper attention-2017
//	scholar ask --paper attention-2017 --verify "Summarize the results"
//
// # Limitations
//
//   - Requires the paper agent service to be running and the paper to be
//     ingested in the vector store.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about an ingested paper",
	Long: `Asks a question about a single ingested paper.

The agent classifies the question, runs bounded rounds of keyword
retrieval against the paper's chunks, and streams a grounded answer with
cited sources. Pass --session to continue a prior conversation.

Examples:
  scholar ask --paper attention-2017 "How does multi-head attention work?"
  scholar ask --paper attention-2017 --session 3f2a... "And the decoder?"
  echo "What datasets were used?" | scholar ask --paper attention-2017
  scholar ask --paper attention-2017 --verify "Summarize the results"`,
	Run: runAskCommand,
}

func init() {
	askCmd.Flags().StringVar(&askPaperID, "paper", "", "Paper id to ask about (required)")
	askCmd.Flags().StringVar(&askSessionID, "session", "", "Session id to continue a conversation")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Backend provider: openai, ollama, claude, local")
	askCmd.Flags().BoolVar(&askVerify, "verify", false, "Verify the response integrity chain")
	_ = askCmd.MarkFlagRequired("paper")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// askRequest is the JSON body of the streaming chat endpoint.
type askRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	if question == "" {
		question = readQuestionFromStdin()
	}
	if strings.TrimSpace(question) == "" {
		log.Fatal("No question given. Pass it as an argument or pipe it on stdin.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := streamAsk(ctx, question)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if result.Error != "" {
		ux.Error(result.Error)
		os.Exit(1)
	}

	ux.RenderSources(os.Stdout, result.Sources)
	ux.ExchangeSummary(result.Rounds, len(result.Sources))

	if result.SessionID != "" && askSessionID == "" {
		if ux.GetPersonality().Level == ux.PersonalityMachine {
			fmt.Printf("SESSION: %s\n", result.SessionID)
		} else {
			fmt.Println(ux.Styles.Muted.Render(
				fmt.Sprintf("\nSession %s (pass --session to continue this conversation)", result.SessionID)))
		}
	}

	if askVerify {
		verification := ux.NewChainVerifier().Verify(result.Events)
		fmt.Println(verification.FormatForDisplay())
		if !verification.Valid {
			os.Exit(1)
		}
	}
}

// streamAsk posts the question and renders the SSE stream as it arrives.
func streamAsk(ctx context.Context, question string) (*ux.StreamResult, error) {
	body, err := json.Marshal(askRequest{
		Message:   question,
		SessionID: askSessionID,
		Provider:  askProvider,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/papers/%s/chat/agent/stream", getAgentBaseURL(), askPaperID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No overall timeout: answer streams can legitimately run for minutes.
	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact agent service at %s: %w", getAgentBaseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeHTTPError(resp)
	}

	processor := ux.NewStreamProcessor()
	reader := ux.NewSSEStreamReader(ux.NewSSEParser())

	result := &ux.StreamResult{}
	err = reader.Read(ctx, resp.Body, func(event ux.StreamEvent) error {
		result.TotalEvents++
		result.Events = append(result.Events, event)
		if event.Round > result.Rounds {
			result.Rounds = event.Round
		}
		switch event.Type {
		case ux.StreamEventContent:
			if result.FirstTokenAt == 0 {
				result.FirstTokenAt = time.Now().UnixMilli()
			}
			result.Answer += event.Content
			result.TotalTokens++
		case ux.StreamEventSources:
			result.Sources = append(result.Sources, event.Sources...)
		case ux.StreamEventDone:
			result.SessionID = event.SessionID
		case ux.StreamEventError:
			result.Error = event.Error
		}
		return processor.HandleEvent(event)
	})
	result.CompletedAt = time.Now().UnixMilli()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decodeHTTPError turns a non-200 response into a readable error,
// surfacing policy findings when present.
func decodeHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("agent service returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("agent service returned %d", resp.StatusCode)
}

// readQuestionFromStdin reads a piped question. Returns empty when stdin
// is a terminal; an interactive prompt here would surprise scripts.
func readQuestionFromStdin() string {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, 64*1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
