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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScholar/pkg/ux"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var (
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage agent conversation sessions",
	}

	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active sessions, newest first",
		Run:   runSessionsList,
	}

	sessionsHistoryCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Show the conversation history of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsHistory,
	}

	sessionsDeleteCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsDelete,
	}
)

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// sessionSummary mirrors the service's session list projection.
type sessionSummary struct {
	SessionID    string    `json:"session_id"`
	PaperID      string    `json:"paper_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// sessionMessage mirrors one history turn.
type sessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func runSessionsList(cmd *cobra.Command, args []string) {
	var resp struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := getJSON(getAgentBaseURL()+"/v1/sessions", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(resp.Sessions) == 0 {
		ux.Muted("No active sessions.")
		return
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	for _, s := range resp.Sessions {
		if machine {
			fmt.Printf("SESSION: %s paper=%s messages=%d last_active=%s\n",
				s.SessionID, s.PaperID, s.MessageCount, s.LastActiveAt.Format(time.RFC3339))
			continue
		}
		fmt.Printf("%s %s\n", ux.IconBullet.Render(), s.SessionID)
		fmt.Println(ux.Styles.Muted.Render(fmt.Sprintf("    paper: %s, %d messages, last active %s",
			s.PaperID, s.MessageCount, s.LastActiveAt.Format("2006-01-02 15:04:05"))))
	}
}

func runSessionsHistory(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	var resp struct {
		SessionID string           `json:"session_id"`
		PaperID   string           `json:"paper_id"`
		Messages  []sessionMessage `json:"messages"`
	}
	url := fmt.Sprintf("%s/v1/sessions/%s/history", getAgentBaseURL(), sessionID)
	if err := getJSON(url, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	machine := ux.GetPersonality().Level == ux.PersonalityMachine
	if !machine {
		ux.Title(fmt.Sprintf("Session %s (paper: %s)", resp.SessionID, resp.PaperID))
	}

	for _, msg := range resp.Messages {
		if machine {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
			continue
		}
		switch msg.Role {
		case "user":
			fmt.Printf("\n%s %s\n", ux.Styles.Subtitle.Render("You:"), msg.Content)
		default:
			fmt.Printf("\n%s %s\n", ux.Styles.Subtitle.Render("Agent:"), msg.Content)
		}
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) {
	sessionID := args[0]

	url := fmt.Sprintf("%s/v1/sessions/%s", getAgentBaseURL(), sessionID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error contacting agent service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		log.Fatalf("Error: agent service returned %d", resp.StatusCode)
	}
	ux.Success(fmt.Sprintf("Deleted session %s", sessionID))
}

// getJSON fetches a URL and decodes the JSON body into out.
func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("contact agent service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return fmt.Errorf("agent service returned %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("agent service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
