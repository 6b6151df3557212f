package models

import "time"

// Role identifies who spoke a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one turn of a conversation. Treat it as immutable once created.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is a saved snapshot of a chat session.
type Transcript struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Personas  []string  `json:"personas"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Messages  []Message `json:"messages,omitempty"`
	Path      string    `json:"path,omitempty"`
}

// TranscriptMatch is a full-text search hit inside an archived transcript.
type TranscriptMatch struct {
	TranscriptID string    `json:"transcript_id"`
	Model        string    `json:"model"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	StartedAt    time.Time `json:"started_at"`
}
