package store

import (
	"sync"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
)

// Memory is an in-process session store. It backs tests and the degraded
// mode used when no store file is configured.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]gateway.SessionRecord
	log      map[int64][]LoggedMessage
}

var _ gateway.Store = (*Memory)(nil)

// LoggedMessage is one in-memory chat log entry.
type LoggedMessage struct {
	SenderID string
	Text     string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]gateway.SessionRecord),
		log:      make(map[int64][]LoggedMessage),
	}
}

func (s *Memory) SaveSession(sessionID string, rec gateway.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = rec
	return nil
}

func (s *Memory) RestoreSession(sessionID string) (*gateway.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Memory) AppendMessage(chatID int64, senderID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[chatID] = append(s.log[chatID], LoggedMessage{SenderID: senderID, Text: text})
	return nil
}

// Messages returns a copy of the chat's log.
func (s *Memory) Messages(chatID int64) []LoggedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoggedMessage(nil), s.log[chatID]...)
}
