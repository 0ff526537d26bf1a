// Package state keeps the conversational progress of every chat talking to a
// bot. The store is in memory only and is lost when the process restarts.
package state

import (
	"sync"
)

// Tag names a conversation state. Chats without an entry are Idle.
type Tag string

const Idle Tag = "idle"

// ChatState is a snapshot of one chat's progress.
type ChatState struct {
	ChatID  int64
	Tag     Tag
	Scratch map[string]any
}

// String returns the scratch value under key, or "" when absent or not a string.
func (s ChatState) String(key string) string {
	v, _ := s.Scratch[key].(string)
	return v
}

// Store is a concurrency-safe chatID -> ChatState map.
type Store struct {
	mu     sync.RWMutex
	states map[int64]*ChatState
}

func NewStore() *Store {
	return &Store{
		states: make(map[int64]*ChatState),
	}
}

// Get returns a copy of the chat's state, or Idle with empty scratch if the
// chat has none.
func (s *Store) Get(chatID int64) ChatState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.states[chatID]
	if !exists {
		return ChatState{ChatID: chatID, Tag: Idle, Scratch: map[string]any{}}
	}

	scratch := make(map[string]any, len(st.Scratch))
	for k, v := range st.Scratch {
		scratch[k] = v
	}
	return ChatState{ChatID: chatID, Tag: st.Tag, Scratch: scratch}
}

// Set moves the chat to tag, keeping its scratch data.
func (s *Store) Set(chatID int64, tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(chatID).Tag = tag
}

// SetValue stores one scratch value for the chat.
func (s *Store) SetValue(chatID int64, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(chatID).Scratch[key] = value
}

// Clear removes the chat entirely; the next Get returns Idle.
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, chatID)
}

// Len returns the number of chats with non-default state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// entry must be called with mu held for writing.
func (s *Store) entry(chatID int64) *ChatState {
	st, exists := s.states[chatID]
	if !exists {
		st = &ChatState{ChatID: chatID, Tag: Idle, Scratch: make(map[string]any)}
		s.states[chatID] = st
	}
	return st
}
