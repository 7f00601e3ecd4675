// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"log/slog"
	"time"
)

// SweeperConfig controls idle-session expiry.
type SweeperConfig struct {
	// Interval between sweep cycles.
	Interval time.Duration
	// MaxIdle is how long a session may sit without a committed exchange
	// before it is removed.
	MaxIdle time.Duration
}

// DefaultSweeperConfig returns the production defaults: sweep every ten
// minutes, expire sessions idle for more than two hours.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 10 * time.Minute,
		MaxIdle:  2 * time.Hour,
	}
}

// Sweeper periodically removes idle sessions from a Store.
type Sweeper struct {
	store  *Store
	config SweeperConfig
	clock  Clock
}

// NewSweeper creates a Sweeper for the given store.
func NewSweeper(store *Store, config SweeperConfig) *Sweeper {
	return &Sweeper{
		store:  store,
		config: config,
		clock:  store.clock,
	}
}

// Run blocks, sweeping on every interval tick until ctx is cancelled.
// Intended to be started as a goroutine from main.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	slog.Info("Session sweeper started",
		"interval", s.config.Interval.String(),
		"max_idle", s.config.MaxIdle.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			removed := s.SweepOnce()
			if removed > 0 {
				slog.Info("Expired idle sessions", "count", removed)
			}
		}
	}
}

// SweepOnce removes every session idle longer than MaxIdle and returns
// how many were removed.
func (s *Sweeper) SweepOnce() int {
	cutoff := s.clock.Now().Add(-s.config.MaxIdle)

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	removed := 0
	for id, e := range s.store.sessions {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.store.sessions, id)
			removed++
		}
	}
	return removed
}
