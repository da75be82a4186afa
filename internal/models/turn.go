package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single user message or assistant reply. Turns are immutable once
// written; TurnID is a per-session sequence number allocated by the store, so
// ordering holds under concurrent appends.
type Turn struct {
	SessionID string          `json:"session_id"`
	TurnID    int64           `json:"turn_id"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	Tokens    int             `json:"tokens"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// SessionSummary is the Tier-2 record: at most one live summary per session,
// superseded on each regeneration. CoversUpToTurnID is monotonically
// non-decreasing across generations.
type SessionSummary struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Text             string    `json:"text"`
	Tokens           int       `json:"tokens"`
	CoversUpToTurnID int64     `json:"covers_up_to_turn_id"`
	Generation       int64     `json:"generation"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProfileTags are the structured preference tags extracted alongside the
// profile text.
type ProfileTags struct {
	Topics     []string `json:"topics"`
	Engagement string   `json:"engagement"`
	Style      string   `json:"style"`
}

// UserProfile is the Tier-3 record: one live profile per (user, persona) pair,
// rebuilt only by batch jobs and read-only on the real-time path.
type UserProfile struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	PersonaID         string      `json:"persona_id"`
	Text              string      `json:"text"`
	Embedding         []float32   `json:"embedding,omitempty"`
	Tags              ProfileTags `json:"tags"`
	ConversationCount int         `json:"conversation_count"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Marker kinds. Interval markers are set when a session's turn count crosses
// the batch interval; the sweep consumes them.
const (
	MarkerKindInterval = "interval"
)

// CompressionMarker flags a session as pending batch summarization. At most
// one outstanding marker per session.
type CompressionMarker struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	PersonaID string    `json:"persona_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStats is the per-session bookkeeping the store maintains alongside
// the turn log.
type SessionStats struct {
	TurnCount    int64     `json:"turn_count"`
	TokenTotal   int64     `json:"token_total"`
	LastActivity time.Time `json:"last_activity"`
}
