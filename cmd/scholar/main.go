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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScholar/pkg/ux"
)

// --- Global Command Variables ---
var (
	agentBaseURL     string // Base URL of the paper agent service
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "scholar",
		Short: "A cli for asking questions about ingested papers",
		Long: `Scholar talks to the Aleutian paper agent service: it streams
agent answers about a single paper, manages conversation sessions, and
verifies the integrity chain of streamed responses.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&agentBaseURL, "url", "",
		"Base URL of the paper agent service (defaults to ALEUTIAN_AGENT_URL or http://localhost:12230)")
	rootCmd.PersistentFlags().StringVarP(&personalityLevel, "personality", "p", "",
		"Output personality: full, standard, minimal, machine")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// getAgentBaseURL resolves the service URL from flag, environment, or
// the local default.
func getAgentBaseURL() string {
	if agentBaseURL != "" {
		return agentBaseURL
	}
	if env := os.Getenv("ALEUTIAN_AGENT_URL"); env != "" {
		return env
	}
	return "http://localhost:12230"
}
