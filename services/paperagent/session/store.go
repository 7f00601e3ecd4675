// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides in-memory conversation session storage for the
// paper agent. Sessions are process-local: restarting the service discards
// all history.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScholar/services/paperagent/datatypes"
)

// ErrNotFound is returned when a session id does not exist in the store.
var ErrNotFound = errors.New("session not found")

// ErrPaperMismatch is returned when a session is resumed against a
// different paper than the one it was created for.
var ErrPaperMismatch = errors.New("session belongs to a different paper")

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by the system time.
func RealClock() Clock { return realClock{} }

// entry wraps one session with two locks: mu guards the session state for
// short reads and writes, exchMu serializes whole exchanges on the same
// session without blocking unrelated sessions.
type entry struct {
	mu         sync.Mutex
	exchMu     sync.Mutex
	session    datatypes.Session
	lastActive time.Time
}

// Store is a thread-safe in-memory session store.
//
// # Description
//
// The store-level RWMutex only guards the session map; per-session state
// is guarded by each entry's own mutex. History is capped at
// datatypes.MaxHistoryMessages; commits that would exceed the cap trim the
// oldest messages first.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	clock    Clock
}

// NewStore creates an empty Store using the system clock.
func NewStore() *Store {
	return NewStoreWithClock(RealClock())
}

// NewStoreWithClock creates an empty Store with an injectable clock.
func NewStoreWithClock(clock Clock) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		clock:    clock,
	}
}

// Create makes a new session bound to paperID and returns its id.
func (s *Store) Create(paperID string) string {
	now := s.clock.Now()
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &entry{
		session: datatypes.Session{
			SessionID: id,
			PaperID:   paperID,
			CreatedAt: now,
		},
		lastActive: now,
	}
	return id
}

// Get returns a copy of the session. The copy's History slice is owned by
// the caller.
func (s *Store) Get(id string) (datatypes.Session, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return datatypes.Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.session
	out.History = append([]datatypes.Message(nil), e.session.History...)
	return out, true
}

// Resolve returns the session for id after checking it belongs to paperID.
func (s *Store) Resolve(id, paperID string) (datatypes.Session, error) {
	sess, ok := s.Get(id)
	if !ok {
		return datatypes.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.PaperID != paperID {
		return datatypes.Session{}, fmt.Errorf("%w: session %s is for paper %s",
			ErrPaperMismatch, id, sess.PaperID)
	}
	return sess, nil
}

// Commit atomically appends the user question and the assistant answer to
// the session history, trimming the oldest messages beyond the cap.
//
// Commit is all-or-nothing: a failed exchange must not call it, so a
// session never holds a question without its answer.
func (s *Store) Commit(id string, userMsg, assistantMsg datatypes.Message) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.History = append(e.session.History, userMsg, assistantMsg)
	if over := len(e.session.History) - datatypes.MaxHistoryMessages; over > 0 {
		e.session.History = append([]datatypes.Message(nil), e.session.History[over:]...)
	}
	e.lastActive = s.clock.Now()
	return nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns summaries of all sessions, newest first.
func (s *Store) List() []datatypes.SessionSummary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]datatypes.SessionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, datatypes.SessionSummary{
			SessionID:    e.session.SessionID,
			PaperID:      e.session.PaperID,
			MessageCount: len(e.session.History),
			CreatedAt:    e.session.CreatedAt,
			LastActiveAt: e.lastActive,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AcquireExchange takes the per-session exchange lock and returns the
// release function. Concurrent exchanges on the same session serialize;
// exchanges on other sessions are unaffected.
func (s *Store) AcquireExchange(id string) (release func(), err error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.exchMu.Lock()
	return e.exchMu.Unlock, nil
}

// touch updates lastActive; used by sweeper tests.
func (s *Store) touch(id string, t time.Time) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.lastActive = t
	e.mu.Unlock()
}
