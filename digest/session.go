// Copyright (c) 2025, OpenPRoT Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package digest

import (
	"sort"
	"time"
)

// DefaultMaxSessions is the session table capacity used when New is not
// given WithMaxSessions.
const DefaultMaxSessions = 16

type sessionState uint8

const (
	stateCreated sessionState = iota
	stateInitialized
	stateUpdated
	stateFailed
)

var stateNames = [...]string{"created", "initialized", "updated", "failed"}

func (s sessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is one in-progress streaming computation.
type Session struct {
	ID        uint32
	Algorithm Algorithm
	CreatedAt time.Time
	LastUsed  time.Time

	// ctx is nil before Begin, while the context is being transformed,
	// and after a backend failure lost it.
	ctx   Context
	state sessionState
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID        uint32
	Algorithm Algorithm
	State     string
	CreatedAt time.Time
	LastUsed  time.Time
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Algorithm: s.Algorithm,
		State:     s.state.String(),
		CreatedAt: s.CreatedAt,
		LastUsed:  s.LastUsed,
	}
}

// sessionTable is a bounded map from session id to session.
type sessionTable struct {
	max      int
	sessions map[uint32]*Session
	nextID   uint32
}

func newSessionTable(max int) *sessionTable {
	return &sessionTable{
		max:      max,
		sessions: make(map[uint32]*Session, max),
		nextID:   1,
	}
}

// allocate inserts a fresh session without a context.
func (t *sessionTable) allocate(alg Algorithm, now time.Time) (*Session, error) {
	if len(t.sessions) >= t.max {
		return nil, ErrTooManySessions
	}
	s := &Session{
		ID:        t.next(),
		Algorithm: alg,
		CreatedAt: now,
		LastUsed:  now,
		state:     stateCreated,
	}
	t.sessions[s.ID] = s
	return s, nil
}

// next returns the next id from a wrapping counter, skipping 0 and any id
// still live in the table. The table is bounded, so the loop terminates.
func (t *sessionTable) next() uint32 {
	for {
		id := t.nextID
		t.nextID++
		if id == 0 {
			continue
		}
		if _, live := t.sessions[id]; live {
			continue
		}
		return id
	}
}

func (t *sessionTable) lookup(id uint32) (*Session, error) {
	s, ok := t.sessions[id]
	if !ok {
		return nil, ErrInvalidSession
	}
	return s, nil
}

func (t *sessionTable) remove(id uint32) {
	delete(t.sessions, id)
}

func (t *sessionTable) len() int {
	return len(t.sessions)
}

// ids returns the live ids in ascending order.
func (t *sessionTable) ids() []uint32 {
	ids := make([]uint32, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
