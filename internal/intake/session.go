// Package intake runs the patient call: it relays turns between the patient
// and the nurse model and, when the call ends, triages, books and notifies
// through the healthcare tools.
package intake

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phildougherty/medic/internal/ai"
)

var (
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when a turn arrives after the call ended.
	ErrSessionEnded = errors.New("session has ended")

	// ErrNoConversation is returned when a call is ended before anyone spoke.
	ErrNoConversation = errors.New("No conversation found.")
)

// Message is one turn of the call. AudioKey points at the stored recording
// or synthesized reply when there is one.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AudioKey  string    `json:"audio_key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Ended     bool      `json:"ended"`
	ReportID  string    `json:"report_id,omitempty"`
}

func NewSession(language string) *Session {
	now := time.Now().UTC()
	if language == "" {
		language = "en"
	}
	return &Session{
		ID:        uuid.NewString(),
		Language:  language,
		History:   []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) append(role, content, audioKey string) {
	now := time.Now().UTC()
	s.History = append(s.History, Message{Role: role, Content: content, AudioKey: audioKey, Timestamp: now})
	s.UpdatedAt = now
}

// Transcript renders the call one line per message with "Patient: " and
// "Agent: " prefixes.
func (s *Session) Transcript() string {
	var b strings.Builder
	for _, m := range s.History {
		if m.Role == ai.RoleUser {
			b.WriteString("Patient: ")
		} else {
			b.WriteString("Agent: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// chatMessages converts the history to the LLM's message format.
func (s *Session) chatMessages() []ai.Message {
	msgs := make([]ai.Message, 0, len(s.History))
	for _, m := range s.History {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}
